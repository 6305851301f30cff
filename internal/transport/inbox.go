package transport

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// inbox polls a directory for message files. Every file is processed
// exactly once: after handling it is renamed to <name>.done and the
// response, when any, is written next to it as <name>.ack.
type inbox struct {
	dir      string
	glob     string
	interval time.Duration
	handler  func(raw []byte) []byte
	log      zerolog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

func newInbox(ep *Endpoint, handler func(raw []byte) []byte, log zerolog.Logger) *inbox {
	return &inbox{
		dir:      ep.Path,
		glob:     ep.FileGlob(),
		interval: ep.PollInterval(),
		handler:  handler,
		log:      log.With().Str("endpoint", ep.Name).Logger(),
		done:     make(chan struct{}),
	}
}

func (in *inbox) Start() error {
	info, err := os.Stat(in.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "inbox", Path: in.dir, Err: os.ErrInvalid}
	}

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		t := time.NewTicker(in.interval)
		defer t.Stop()
		for {
			select {
			case <-in.done:
				return
			case <-t.C:
				in.scan()
			}
		}
	}()
	return nil
}

func (in *inbox) Stop() error {
	close(in.done)
	in.wg.Wait()
	return nil
}

// scan handles every matching file in name order.
func (in *inbox) scan() {
	matches, err := filepath.Glob(filepath.Join(in.dir, in.glob))
	if err != nil {
		in.log.Error().Err(err).Str("glob", in.glob).Msg("inbox glob")
		return
	}
	for _, path := range matches {
		in.processFile(path)
	}
}

func (in *inbox) processFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		in.log.Error().Err(err).Str("file", path).Msg("inbox read")
		return
	}

	resp := in.handler(raw)

	if resp != nil {
		if err := os.WriteFile(path+".ack", resp, 0o644); err != nil {
			in.log.Error().Err(err).Str("file", path).Msg("inbox ack write")
		}
	}
	// Rename last so a crash reprocesses rather than loses the file.
	if err := os.Rename(path, path+".done"); err != nil {
		in.log.Error().Err(err).Str("file", path).Msg("inbox rename")
		return
	}
	in.log.Info().Str("file", filepath.Base(path)).Msg("inbox file processed")
}
