// voiceclient 是语音会话服务的命令行调试客户端
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/voice-chat/backend/internal/session"
)

var (
	serverURL string
	timeout   time.Duration
	outPath   string
	chunkSize int
)

var rootCmd = &cobra.Command{
	Use:   "voiceclient",
	Short: "Drive a voice chat session over WebSocket",
	Long: `Connects to the voice chat server and plays one exchange:

  voiceclient stream recording.webm --chunk-size 4096
  voiceclient upload recording.wav --out reply.mp3
  voiceclient say "hello"
  voiceclient ping`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if v := os.Getenv("VOICE_SERVER_URL"); v != "" && !cmd.Flags().Changed("url") {
			serverURL = v
		}
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream <file>",
	Short: "Record a file as binary chunks between start and stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return exchange(cmd, func(c *voiceClient) error { return c.stream(data, chunkSize) })
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Submit a finished recording with process_audio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return exchange(cmd, func(c *voiceClient) error { return c.upload(data) })
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Send a typed chat_message and wait for the spoken reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return exchange(cmd, func(c *voiceClient) error {
			return c.command(session.CommandChatMessage, map[string]string{"text": args[0]})
		})
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the session round trip",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		c, err := dialVoice(ctx, serverURL, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.command(session.CommandPing, nil); err != nil {
			return err
		}
		_, err = c.await(ctx, session.EventPong)
		return err
	},
}

// exchange 建立连接、发送请求并等待 tts_complete
func exchange(cmd *cobra.Command, send func(*voiceClient) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c, err := dialVoice(ctx, serverURL, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer c.Close()

	if err := send(c); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	ev, err := c.await(ctx, session.EventTTSComplete)
	if err != nil {
		return err
	}
	if err := saveReply(ev, outPath); err != nil {
		return err
	}
	if outPath != "" {
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("reply saved to "+outPath))
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "ws://localhost:3001/ws", "WebSocket endpoint")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 90*time.Second, "Overall exchange timeout")
	rootCmd.PersistentFlags().StringVar(&outPath, "out", "", "Write the reply audio to this file")
	streamCmd.Flags().IntVar(&chunkSize, "chunk-size", 4096, "Bytes per binary frame")

	rootCmd.AddCommand(streamCmd, uploadCmd, sayCmd, pingCmd)
}

func main() {
	// .env 可选
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}
