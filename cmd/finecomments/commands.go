package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/apperr"
	"github.com/UkralStul/fine-comments-service/internal/authors"
	"github.com/UkralStul/fine-comments-service/internal/commentstore"
	"github.com/UkralStul/fine-comments-service/internal/config"
	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/logging"
	"github.com/UkralStul/fine-comments-service/internal/realtime"
	"github.com/UkralStul/fine-comments-service/internal/thread"
)

func newLogger() *zap.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	log, err := logging.New(level, true)
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func remote(log *zap.Logger) (*commentstore.Remote, error) {
	if userID == "" {
		return nil, errors.New("--user is required")
	}
	return commentstore.NewRemote(serverURL, userID, commentstore.WithRemoteLogger(log))
}

func requireFine() error {
	if fineID == "" {
		return errors.New("--fine is required")
	}
	return nil
}

// newResolver собирает кэш авторов по настройкам AUTHOR_CACHE_*.
func newResolver(src authors.Source, cfg config.Config) (*authors.Resolver, error) {
	return authors.New(src, cfg.AuthorCacheSize, cfg.AuthorCacheTTL)
}

// viewOptions - общие настройки View из окружения.
func viewOptions(cfg config.Config, log *zap.Logger) []thread.ViewOption {
	return []thread.ViewOption{
		thread.WithViewGrace(cfg.ErrorGrace),
		thread.WithViewLogger(log),
	}
}

// describe печатает ошибку так, как её увидит пользователь.
func describe(err error) error {
	e := apperr.Parse(err)
	return fmt.Errorf("%s (%s)", e.UserMessage, e.Message)
}

func runThread(cmd *cobra.Command, args []string) error {
	if err := requireFine(); err != nil {
		return err
	}
	r, err := remote(newLogger())
	if err != nil {
		return err
	}
	th, err := r.FetchThread(cmd.Context(), fineID)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d comments\n", th.TotalCount)
	renderTree(cmd.OutOrStdout(), th.Comments)
	return nil
}

func runPost(cmd *cobra.Command, args []string) error {
	if err := requireFine(); err != nil {
		return err
	}
	r, err := remote(newLogger())
	if err != nil {
		return err
	}
	in := commentstore.CreateInput{Content: strings.Join(args, " "), FineID: fineID, AuthorID: userID}
	if replyTo != "" {
		in.ParentCommentID = &replyTo
	}
	c, err := r.Create(cmd.Context(), in)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), c.ID)
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	r, err := remote(newLogger())
	if err != nil {
		return err
	}
	if _, err := r.Update(cmd.Context(), args[0], strings.Join(args[1:], " ")); err != nil {
		return describe(err)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	r, err := remote(newLogger())
	if err != nil {
		return err
	}
	if _, err := r.SoftDelete(cmd.Context(), args[0]); err != nil {
		return describe(err)
	}
	return nil
}

const watchHelp = `commands:
  add <text>            new comment
  reply <id> <text>     reply to a comment
  edit <id> <text>      edit your comment
  delete <id>           delete your comment
  resync                reload the thread
  status                connection state
  quit`

func runWatch(cmd *cobra.Command, args []string) error {
	if err := requireFine(); err != nil {
		return err
	}
	log := newLogger()
	defer func() { _ = log.Sync() }()

	r, err := remote(log)
	if err != nil {
		return err
	}
	cfg := config.Load()
	resolver, err := newResolver(r, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	me, err := resolver.Load(ctx, userID)
	if err != nil {
		return describe(err)
	}

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	changes := make(chan struct{}, 1)
	notify := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}

	v := thread.NewView(fineID, r, realtime.NewWSFeed(serverURL, log), resolver,
		append(viewOptions(cfg, log),
			thread.WithEventHandler(func(domain.Event) { notify() }),
			thread.WithRejectHandler(func(err error, optimisticID string) {
				fmt.Fprintln(errOut, "not saved:", err)
				notify()
			}),
			thread.WithDisconnectHandler(func(err error) {
				fmt.Fprintln(errOut, "live updates lost, run resync:", err)
			}),
		)...,
	)
	defer v.Close()

	if err := v.Open(ctx); err != nil {
		return describe(err)
	}
	fmt.Fprintln(out, watchHelp)
	redraw(ctx, out, v)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			redraw(ctx, out, v)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(ctx, v, *me, line)
			if err != nil {
				fmt.Fprintln(errOut, "error:", describe(err))
			}
			if quit {
				return nil
			}
			redraw(ctx, out, v)
		}
	}
}

func redraw(ctx context.Context, w io.Writer, v *thread.View) {
	nodes, err := v.Snapshot(ctx)
	if err != nil {
		return
	}
	fmt.Fprintln(w, strings.Repeat("-", 40))
	renderTree(w, nodes)
}

// execute выполняет одну команду интерактивного режима.
func execute(ctx context.Context, v *thread.View, me domain.Author, line string) (bool, error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch verb {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Println(watchHelp)
		return false, nil
	case "add":
		_, err := v.Add(ctx, rest, nil, me)
		return false, err
	case "resync":
		return false, v.Resync(ctx)
	case "status":
		st, err := v.Status(ctx)
		if err != nil {
			return false, err
		}
		fmt.Printf("connected=%t pending=%d last_error=%v\n", st.Connected, st.Pending, st.LastError)
		return false, nil
	}

	prefix, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
	nodes, err := v.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	id, err := resolveID(nodes, prefix)
	if err != nil {
		return false, err
	}

	switch verb {
	case "reply":
		_, err = v.Add(ctx, text, &id, me)
	case "edit":
		_, err = v.Edit(ctx, id, text, me.ID)
	case "delete":
		err = v.Delete(ctx, id, me.ID)
	default:
		err = fmt.Errorf("unknown command %q, try help", verb)
	}
	return false, err
}
