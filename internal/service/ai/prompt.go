package ai

import "strings"

// DefaultSystemPrompt 商场助手的默认系统提示词（印尼语）
const DefaultSystemPrompt = `Kamu adalah asisten aplikasi mall.
ATURAN WAJIB:
- Selalu jaga konteks pembicaraan terakhir
- Jika user bertanya ambigu, hubungkan ke topik sebelumnya
- Jika masih ambigu, minta klarifikasi singkat
- Fokus ke tenant, event, dan promo mall ini
- Jangan mengubah topik tanpa alasan`

// resolveSystemPrompt 配置覆盖优先，否则使用默认提示词
func resolveSystemPrompt(override string) string {
	if p := strings.TrimSpace(override); p != "" {
		return p
	}
	return DefaultSystemPrompt
}
