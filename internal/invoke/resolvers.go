package invoke

import (
	"context"

	"github.com/roach88/strata/internal/ingest"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/store"
)

// settleFunc applies a successful response to the cache.
type settleFunc func(s *store.Store, d *ir.Descriptor, resp *ir.Response) ([]ingest.Write, error)

func (inv *Invoker) get(ctx context.Context, s *store.Store, d *ir.Descriptor) (*Result, error) {
	return inv.request(ctx, s, d, ir.MethodGet, nil, inv.importResponse)
}

func (inv *Invoker) create(ctx context.Context, s *store.Store, d *ir.Descriptor) (*Result, error) {
	return inv.request(ctx, s, d, ir.MethodPost, body(d), inv.importResponse)
}

func (inv *Invoker) update(ctx context.Context, s *store.Store, d *ir.Descriptor) (*Result, error) {
	return inv.request(ctx, s, d, ir.MethodPut, body(d), inv.importResponse)
}

func (inv *Invoker) remove(ctx context.Context, s *store.Store, d *ir.Descriptor) (*Result, error) {
	return inv.request(ctx, s, d, ir.MethodDelete, nil, func(s *store.Store, d *ir.Descriptor, _ *ir.Response) ([]ingest.Write, error) {
		s.Delete(d)
		return nil, nil
	})
}

// fetch reads through the cache. When the snapshot has no data or was
// never requested a get is started in the background. Its loading touch
// does not notify, so subscribers that re-read with fetch on change do not
// start another request. The returned snapshot is read after that touch
// and before the response lands.
func (inv *Invoker) fetch(ctx context.Context, s *store.Store, d *ir.Descriptor) (*Result, error) {
	snap, err := s.Fetch(d)
	if err != nil {
		return nil, err
	}
	res := &Result{Snapshot: snap}
	if snap.HasData() && !snap.NeverRequested() {
		return res, nil
	}
	if inv.transport == nil {
		inv.logger.Debug("fetch miss without transport", "type", d.Type, "path", d.Path, "id", d.ID)
		return res, nil
	}

	s.Touch(d, ir.TouchLoading(ir.StatusStale))
	if res.Snapshot, err = s.Fetch(d); err != nil {
		return nil, err
	}
	res.Future = inv.send(ctx, s, d, ir.MethodGet, nil, inv.importResponse)
	return res, nil
}

func (inv *Invoker) invalidate(_ context.Context, s *store.Store, d *ir.Descriptor) (*Result, error) {
	s.Touch(d, ir.TouchStale())
	s.NotifyChange(d)
	return &Result{}, nil
}

// request touches d to loading, notifies when loading notifications are
// on, and sends one transport call in the background.
func (inv *Invoker) request(ctx context.Context, s *store.Store, d *ir.Descriptor, method string, body any, onSuccess settleFunc) (*Result, error) {
	if inv.transport == nil {
		return nil, ErrNoTransport
	}

	s.Touch(d, ir.TouchLoading(ir.StatusStale))
	if inv.notifyLoading {
		s.NotifyChange(d)
	}
	return &Result{Future: inv.send(ctx, s, d, method, body, onSuccess)}, nil
}

// send issues one transport call on a goroutine detached from ctx's
// cancellation and settles the returned future when it completes.
func (inv *Invoker) send(ctx context.Context, s *store.Store, d *ir.Descriptor, method string, body any, onSuccess settleFunc) *Future {
	fut := newFuture()
	detached := context.WithoutCancel(ctx)

	inv.inflight.Add(1)
	go func() {
		defer inv.inflight.Done()

		resp, err := inv.transport.Do(detached, method, d.Path, body)
		var writes []ingest.Write
		if err == nil {
			writes, err = onSuccess(s, d, resp)
		}
		if err != nil {
			inv.logger.Warn("request failed", "method", method, "path", d.Path, "error", err)
			s.Touch(d, ir.TouchAt(s.Now()))
			s.NotifyChange(d)
			fut.settle(nil, err)
			return
		}

		s.NotifyChange(d)
		for _, w := range writes {
			if w.Store != s || w.Descriptor.ID != d.ID {
				w.Store.NotifyChange(w.Descriptor)
			}
		}
		var data any
		if resp != nil {
			data = resp.Data
		}
		fut.settle(data, nil)
	}()

	return fut
}

func (inv *Invoker) importResponse(s *store.Store, d *ir.Descriptor, resp *ir.Response) ([]ingest.Write, error) {
	if resp == nil || resp.Data == nil {
		now := s.Now()
		s.Touch(d, ir.Touch{Status: ir.StatusSuccess, Timestamp: &now})
		return nil, nil
	}
	return inv.importer.Import(d, resp.Data)
}

// body returns the request body for d, nil when there is no payload.
func body(d *ir.Descriptor) any {
	if len(d.Payload) == 0 {
		return nil
	}
	return d.Payload
}
