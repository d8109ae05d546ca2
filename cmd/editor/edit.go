package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docedit/docedit/internal/autosave"
	"github.com/docedit/docedit/internal/client"
	"github.com/docedit/docedit/internal/editor"
)

var errUnsaved = errors.New("unsaved changes")

type editOptions struct {
	ID          string
	Loader      editor.Loader
	Saver       autosave.Saver
	Debounce    time.Duration
	StatusClear time.Duration
	In          io.Reader
	Out         io.Writer
}

// lockedWriter serializes status lines printed from save goroutines with
// the prompt output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

func runEdit(ctx context.Context, o editOptions) error {
	out := &lockedWriter{w: o.Out}
	sched := autosave.New(o.Saver, autosave.Options{Delay: o.Debounce})
	defer sched.Close()

	sess := editor.New(o.Loader, sched, editor.Options{
		StatusClear: o.StatusClear,
		OnStatus: func(st editor.Status, err error) {
			switch st {
			case editor.StatusSaving, editor.StatusSaved:
				out.printf("[%s]\n", st)
			case editor.StatusError:
				out.printf("[error: %v]\n", err)
			}
		},
	})
	if err := sess.Load(ctx, o.ID); err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("no document with id %s (see `editor list`): %w", o.ID, err)
		}
		return err
	}
	defer sess.Close()

	doc, _ := sess.Document()
	out.printf("editing %q (%s), autosave after %s; :q to quit\n", doc.Title, doc.ID, sched.Delay())

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(o.In)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			// interrupted: same as leaving the page
			return ctx.Err()
		case err := <-scanErr:
			if err != nil {
				return err
			}
			return saveAndWait(ctx, sess, sched)
		case line := <-lines:
			quit, err := handleLine(ctx, sess, sched, out, line)
			if err != nil {
				out.printf("%v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handleLine applies one input line and reports whether the session ended.
func handleLine(ctx context.Context, sess *editor.Session, sched *autosave.Scheduler, out *lockedWriter, line string) (bool, error) {
	switch {
	case line == ":q!":
		return true, nil
	case line == ":q":
		return true, saveAndWait(ctx, sess, sched)
	case line == ":w":
		return false, sess.ForceSave()
	case line == ":p":
		snap, _ := sess.Snapshot()
		out.printf("# %s\n%s", snap.Title, snap.Content)
		return false, nil
	case strings.HasPrefix(line, ":t "):
		return false, sess.Edit(editor.FieldTitle, strings.TrimSpace(strings.TrimPrefix(line, ":t ")))
	}
	snap, _ := sess.Snapshot()
	return false, sess.Edit(editor.FieldContent, snap.Content+line+"\n")
}

// saveAndWait writes pending edits now and waits for the write to settle.
func saveAndWait(ctx context.Context, sess *editor.Session, sched *autosave.Scheduler) error {
	doc, ok := sess.Document()
	if !ok {
		return nil
	}
	if _, pending := sched.Pending(doc.ID); !pending && sched.Phase(doc.ID) == autosave.Idle {
		return nil
	}
	if err := sess.ForceSave(); err != nil {
		return err
	}
	if err := sess.Wait(ctx); err != nil {
		return err
	}
	if sched.Phase(doc.ID) == autosave.Dirty {
		if err := sess.LastError(); err != nil {
			return fmt.Errorf("unsaved changes: %w", err)
		}
		return errUnsaved
	}
	return nil
}
