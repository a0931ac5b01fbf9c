package tracker

import "go.uber.org/zap"

// ChangeEvent is delivered to every subscriber once per change outside a
// bulk transaction, and once per distinct changed id, in first-touched
// order, when a bulk transaction flushes. ID is either an item id or a
// "location_id/section_name" path. Item events come from item state
// changes; section events come from cleared-count updates only, and a
// change to a section's ref target emits no event.
type ChangeEvent struct {
	ID string
}

// Reactive is the event-fan-out and bulk-transaction core of §4.5. It sits
// between ItemStore's raw per-item notifications and the public change
// subscription surface, and owns cache invalidation: outside a bulk
// transaction every notification invalidates the provider index and the
// evaluator's reachability cache before its event is emitted; inside one,
// both are invalidated once at the outermost flush, not once per queued id.
type Reactive struct {
	log       *zap.SugaredLogger
	provider  *ProviderIndex
	evaluator *Evaluator

	subscribers []func(ChangeEvent)

	bulkDepth  int
	pending    []string
	pendingSet map[string]struct{}
}

// NewReactive wires a reactive core over provider and evaluator, whose
// caches it invalidates on every flush.
func NewReactive(log *zap.SugaredLogger, provider *ProviderIndex, evaluator *Evaluator) *Reactive {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reactive{log: log, provider: provider, evaluator: evaluator}
}

// Subscribe registers fn to receive every future change event.
func (r *Reactive) Subscribe(fn func(ChangeEvent)) {
	r.subscribers = append(r.subscribers, fn)
}

// OnChanged is the hook installed on both ItemStore and LocationStore via
// their respective SetNotifier. Outside a bulk transaction it invalidates
// caches and emits immediately; inside one it queues id (deduped,
// order-preserving) for the matching EndBulk.
func (r *Reactive) OnChanged(id string) {
	if r.bulkDepth > 0 {
		r.enqueue(id)
		return
	}
	r.invalidateCaches()
	r.emit(id)
}

// BeginBulk opens a bulk-update transaction. Calls nest: caches stay warm
// and events stay queued until the outermost EndBulk.
func (r *Reactive) BeginBulk() {
	r.bulkDepth++
}

// EndBulk closes one level of bulk transaction. On the outermost call it
// invalidates caches once and flushes every queued change event in the
// order each id was first touched.
func (r *Reactive) EndBulk() {
	if r.bulkDepth == 0 {
		r.log.Warnw("EndBulk called with no matching BeginBulk")
		return
	}
	r.bulkDepth--
	if r.bulkDepth > 0 {
		return
	}
	r.flush()
}

// InBulk reports whether a bulk transaction is currently open.
func (r *Reactive) InBulk() bool {
	return r.bulkDepth > 0
}

func (r *Reactive) flush() {
	ids := r.pending
	r.pending = nil
	r.pendingSet = nil
	if len(ids) == 0 {
		return
	}
	r.invalidateCaches()
	for _, id := range ids {
		r.emit(id)
	}
}

func (r *Reactive) enqueue(id string) {
	if r.pendingSet == nil {
		r.pendingSet = make(map[string]struct{})
	}
	if _, ok := r.pendingSet[id]; ok {
		return
	}
	r.pendingSet[id] = struct{}{}
	r.pending = append(r.pending, id)
}

func (r *Reactive) invalidateCaches() {
	r.provider.Invalidate()
	r.evaluator.Invalidate()
}

func (r *Reactive) emit(id string) {
	ev := ChangeEvent{ID: id}
	for _, fn := range r.subscribers {
		fn(ev)
	}
}
