package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voice-chat/backend/internal/audio"
	"github.com/zhouzirui/voice-chat/backend/internal/session"
)

var (
	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	textStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

// errServer 表示服务端返回了 error 事件
var errServer = errors.New("server reported an error")

// voiceClient 是一个最小的 WebSocket 会话客户端
type voiceClient struct {
	conn     *websocket.Conn
	out      io.Writer
	clientID string
}

// dialVoice 建立连接并等待服务端的 connection 事件
func dialVoice(ctx context.Context, url string, out io.Writer) (*voiceClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &voiceClient{conn: conn, out: out}
	ev, err := c.next(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if ev.Type != session.EventConnection {
		conn.Close()
		return nil, fmt.Errorf("unexpected first event %q", ev.Type)
	}
	c.clientID = ev.ClientID
	return c, nil
}

func (c *voiceClient) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *voiceClient) command(typ string, fields map[string]string) error {
	frame := map[string]string{"type": typ}
	for k, v := range fields {
		frame[k] = v
	}
	return c.conn.WriteJSON(frame)
}

// stream 以分片方式发送一段录音
func (c *voiceClient) stream(data []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = len(data)
	}
	if err := c.command(session.CommandStartRecording, nil); err != nil {
		return err
	}
	for off := 0; off < len(data); off += chunkSize {
		end := min(off+chunkSize, len(data))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, data[off:end]); err != nil {
			return err
		}
	}
	return c.command(session.CommandStopRecording, nil)
}

// upload 通过 process_audio 一次性提交录音
func (c *voiceClient) upload(data []byte) error {
	return c.command(session.CommandProcessAudio, map[string]string{
		"audioData": base64.StdEncoding.EncodeToString(data),
		"mimeType":  audio.Sniff(data).MimeType(),
	})
}

func (c *voiceClient) next(ctx context.Context) (session.Event, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	}
	var ev session.Event
	if err := c.conn.ReadJSON(&ev); err != nil {
		return session.Event{}, fmt.Errorf("read event: %w", err)
	}
	c.print(ev)
	return ev, nil
}

// await 打印事件直到遇到 final 指定的事件类型或 error 事件
func (c *voiceClient) await(ctx context.Context, final string) (session.Event, error) {
	for {
		ev, err := c.next(ctx)
		if err != nil {
			return session.Event{}, err
		}
		switch ev.Type {
		case final:
			return ev, nil
		case session.EventError:
			return ev, fmt.Errorf("%w: %s", errServer, ev.Error)
		}
	}
}

func (c *voiceClient) print(ev session.Event) {
	line := eventStyle.Render(fmt.Sprintf("%-22s", ev.Type))
	switch {
	case ev.Type == session.EventError:
		line += " " + errorStyle.Render(ev.Error)
	case ev.Type == session.EventTTSComplete:
		line += " " + successStyle.Render(fmt.Sprintf("%d bytes base64 (%s)", len(ev.AudioData), ev.MimeType))
	case ev.Text != "":
		line += " " + textStyle.Render(ev.Text)
	case ev.ClientID != "":
		line += " " + dimStyle.Render(ev.ClientID)
	case ev.ChunkSize > 0:
		line += " " + dimStyle.Render(fmt.Sprintf("chunk=%d total=%d", ev.ChunkSize, ev.TotalChunks))
	}
	fmt.Fprintln(c.out, line)
}

// saveReply 将 tts_complete 的音频写入文件
func saveReply(ev session.Event, path string) error {
	if path == "" || ev.AudioData == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(ev.AudioData)
	if err != nil {
		return fmt.Errorf("decode reply audio: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
