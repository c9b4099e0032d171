package sse

import (
	"context"
	"io"
	"net/http"
	"time"

	"kiro-gateway/internal/eventstream"
)

const pingInterval = 25 * time.Second

// StreamGuard is the subset of the sticky stream guard the emitter needs.
// Satisfied by *sticky.Guard.
type StreamGuard interface {
	Activate()
	Touch()
}

// FinalUsage is reported exactly once per stream, regardless of which path
// (clean end, upstream error, client disconnect) terminated it.
type FinalUsage struct {
	InputTokens  int
	OutputTokens int
	TokenSource  string
	StopReason   string
	Err          error
}

func startBodyReader(body io.Reader) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		buf := make([]byte, 32*1024)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				chunks <- chunk
			}
			if err != nil {
				if err != io.EOF {
					errs <- err
				}
				return
			}
		}
	}()
	return chunks, errs
}

// RunIncremental streams translated SSE events to the client as they arrive,
// interleaved with a 25s ping on a timer. Usage is recorded exactly once via
// onFinal, on every exit path (clean end, upstream read error, or ctx
// cancellation from a severed client transport).
func RunIncremental(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, body io.Reader, guard StreamGuard, tr *Translator, onFinal func(FinalUsage)) error {
	guard.Activate()
	decoder := eventstream.NewDecoder()
	chunks, errs := startBodyReader(body)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	recorded := false
	record := func(err error) {
		if recorded {
			return
		}
		recorded = true
		onFinal(FinalUsage{
			InputTokens:  tr.InputTokens(),
			OutputTokens: tr.OutputTokens(),
			TokenSource:  tr.TokenSource(),
			StopReason:   tr.StopReason(),
			Err:          err,
		})
	}

	for {
		select {
		case <-ctx.Done():
			record(ctx.Err())
			return ctx.Err()

		case chunk, ok := <-chunks:
			if !ok {
				if err := WriteAll(w, flusher, tr.Finalize()); err != nil {
					record(err)
					return err
				}
				record(nil)
				return nil
			}
			guard.Touch()
			if err := decoder.Feed(chunk); err != nil {
				continue
			}
			frames, _ := decoder.Decode()
			for _, f := range frames {
				events := tr.Translate(eventstream.FromFrame(f))
				if err := WriteAll(w, flusher, events); err != nil {
					record(err)
					return err
				}
			}

		case err := <-errs:
			if err != nil {
				_ = WriteAll(w, flusher, tr.Finalize())
				record(err)
				return err
			}

		case <-ticker.C:
			guard.Touch()
			if err := Write(w, flusher, Ping()); err != nil {
				record(err)
				return err
			}
		}
	}
}

// fixupMessageStartUsage rewrites the buffered message_start event's input
// token count in place. ensureStarted captures whatever figure is current
// the moment the first content block opens, which can predate a later
// ContextUsage event; since buffered mode never writes a byte before the
// final flush, the in-memory event can still be corrected to the true
// upstream count.
func fixupMessageStartUsage(events []Event, inputTokens int) {
	for i := range events {
		if events[i].Name != "message_start" {
			continue
		}
		if payload, ok := events[i].Data.(messageStartEvent); ok {
			payload.Message.Usage.InputTokens = inputTokens
			events[i].Data = payload
		}
		return
	}
}

// RunBuffered withholds the entire translated transcript until the upstream
// stream ends, so that message_start.usage.input_tokens can be filled in
// with the true upstream figure rather than a pre-stream estimate. Only
// pings cross the wire during the wait.
func RunBuffered(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, body io.Reader, guard StreamGuard, tr *Translator, onFinal func(FinalUsage)) error {
	guard.Activate()
	decoder := eventstream.NewDecoder()
	chunks, errs := startBodyReader(body)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	var buffered []Event
	recorded := false
	record := func(err error) {
		if recorded {
			return
		}
		recorded = true
		onFinal(FinalUsage{
			InputTokens:  tr.InputTokens(),
			OutputTokens: tr.OutputTokens(),
			TokenSource:  tr.TokenSource(),
			StopReason:   tr.StopReason(),
			Err:          err,
		})
	}
	flushAll := func(err error) error {
		buffered = append(buffered, tr.Finalize()...)
		fixupMessageStartUsage(buffered, tr.InputTokens())
		writeErr := WriteAll(w, flusher, buffered)
		record(err)
		return writeErr
	}

	for {
		// Ping-biased: re-check the ping timer, non-blocking, before falling
		// into the main select each iteration. A plain Go select has no
		// priority among ready cases, so without this a sustained burst of
		// chunks could starve the ticker case indefinitely; checking it
		// first every loop guarantees a due ping is never passed over.
		select {
		case <-ticker.C:
			guard.Touch()
			if err := Write(w, flusher, Ping()); err != nil {
				record(err)
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			_ = flushAll(ctx.Err())
			return ctx.Err()

		case chunk, ok := <-chunks:
			if !ok {
				return flushAll(nil)
			}
			guard.Touch()
			if err := decoder.Feed(chunk); err != nil {
				continue
			}
			frames, _ := decoder.Decode()
			for _, f := range frames {
				buffered = append(buffered, tr.Translate(eventstream.FromFrame(f))...)
			}

		case err := <-errs:
			if err != nil {
				return flushAll(err)
			}

		case <-ticker.C:
			// Ping-biased: during the withholding window only pings cross
			// the wire, so the client's transport stays alive without
			// leaking partial usage figures.
			guard.Touch()
			if err := Write(w, flusher, Ping()); err != nil {
				record(err)
				return err
			}
		}
	}
}
