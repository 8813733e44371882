// Command finecomments - клиент треда комментариев к штрафу: разовые
// операции и интерактивный просмотр с обновлениями в реальном времени.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	userID    string
	fineID    string
	replyTo   string
	verbose   bool

	rootCmd = &cobra.Command{
		Use:           "finecomments",
		Short:         "Read and write comment threads on fines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	threadCmd = &cobra.Command{
		Use:   "thread",
		Short: "Prints the comment tree of a fine",
		Args:  cobra.NoArgs,
		RunE:  runThread,
	}
	postCmd = &cobra.Command{
		Use:   "post [text]",
		Short: "Posts a comment, or a reply with --reply-to",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPost,
	}
	editCmd = &cobra.Command{
		Use:   "edit [comment-id] [text]",
		Short: "Edits your own comment",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runEdit,
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [comment-id]",
		Short: "Deletes your own comment",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Opens the thread interactively and follows live changes",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
)

func init() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("FINE_SERVER_URL", "http://localhost:8080"), "comment service base URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("FINE_USER_ID"), "your user id")
	rootCmd.PersistentFlags().StringVar(&fineID, "fine", os.Getenv("FINE_ID"), "fine id")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	postCmd.Flags().StringVar(&replyTo, "reply-to", "", "parent comment id")

	rootCmd.AddCommand(threadCmd, postCmd, editCmd, deleteCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
