package update

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"slices"
	"sort"
	"time"

	"github.com/i5heu/ouroboros-xmldb/internal/metrics"
	"github.com/i5heu/ouroboros-xmldb/internal/nodes"
)

type state int

const (
	collecting state = iota
	eliminating
	sorted
	applying
	repairing
	done
)

func (s state) String() string {
	return [...]string{"collecting", "eliminating", "sorted", "applying", "repairing", "done"}[s]
}

type entry struct {
	u   Update
	seq int
}

// Planned is an update with its position in the application order.
type Planned struct {
	Update Update
	// Seq is the order in which the update was added.
	Seq int
	// ApplyAt is the PRE the update is applied at: its location moved by
	// the updates at the same location that are applied before it.
	ApplyAt int
	// Accumulated is the sum of the shifts of all updates that precede this
	// one in document order.
	Accumulated int
}

// Final returns the PRE of the update target once the whole batch is
// applied.
func (p Planned) Final() int {
	return p.Update.Location() + p.Accumulated
}

// Stats summarizes an applied batch.
type Stats struct {
	Applied   int
	Discarded int
	Repaired  int
	Shift     int
}

// Option configures a List.
type Option func(*List)

// WithLogger sets the logger for batch diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(l *List) {
		if log != nil {
			l.log = log
		}
	}
}

// List collects the updates of one batch and applies them together. A List
// is single-use and not safe for concurrent use.
type List struct {
	log       *slog.Logger
	state     state
	entries   []entry
	plan      []Planned
	discarded []Update
	stats     Stats
}

func NewList(opts ...Option) *List {
	l := &List{
		log: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add queues an update. It panics once the batch has been planned.
func (l *List) Add(u Update) {
	if l.state != collecting {
		panic(fmt.Sprintf("update: add to a list that is %s", l.state))
	}
	if u == nil {
		panic("update: add of a nil update")
	}
	l.entries = append(l.entries, entry{u: u, seq: len(l.entries)})
}

// Len returns the number of queued updates.
func (l *List) Len() int { return len(l.entries) }

// Plan eliminates superseded updates and fixes the application order. It
// is called by Apply; calling it earlier ends the collecting phase.
func (l *List) Plan() []Planned {
	if l.state == collecting {
		l.prepare()
	}
	return slices.Clone(l.plan)
}

// Discarded returns the updates dropped because a destructive update
// removes their target.
func (l *List) Discarded() []Update {
	return slices.Clone(l.discarded)
}

// Stats returns the counters of the applied batch.
func (l *List) Stats() Stats { return l.stats }

func (l *List) prepare() {
	l.state = eliminating
	asc := slices.Clone(l.entries)
	slices.SortFunc(asc, compareDocument)
	kept := l.eliminate(asc)

	l.state = sorted
	slices.SortFunc(kept, compareApply)
	l.plan = accumulate(kept)
}

// eliminate drops updates aimed inside the range of a destructive update.
// asc is in document order, so the outermost destructive update of a range
// is seen first and nested ones are dropped before they open a range.
func (l *List) eliminate(asc []entry) []entry {
	var ranges []Update
	opened := make(map[int]bool)
	for _, e := range asc {
		if !e.u.Destructive() {
			continue
		}
		if n := len(ranges); n > 0 {
			last := ranges[n-1]
			if e.u.Location() < last.Location()+last.Span() {
				l.discard(e.u, last)
				continue
			}
		}
		ranges = append(ranges, e.u)
		opened[e.seq] = true
	}

	kept := make([]entry, 0, len(asc))
	for _, e := range asc {
		if e.u.Destructive() {
			if opened[e.seq] {
				kept = append(kept, e)
			}
			continue
		}
		if d, ok := covering(ranges, e.u); ok {
			l.discard(e.u, d)
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func (l *List) discard(u, by Update) {
	l.discarded = append(l.discarded, u)
	l.log.Debug("discarded superseded update", "update", u.String(), "by", by.String())
}

// covering returns the destructive update whose removed range contains the
// target of u. ranges is sorted and non-overlapping.
func covering(ranges []Update, u Update) (Update, bool) {
	find := func(pre int) (Update, bool) {
		i := sort.Search(len(ranges), func(i int) bool { return ranges[i].Location() > pre }) - 1
		if i < 0 {
			return nil, false
		}
		d := ranges[i]
		return d, pre < d.Location()+d.Span()
	}

	loc := u.Location()
	if d, ok := find(loc); ok {
		if loc > d.Location() || !isInsertion(u) {
			return d, true
		}
	}
	if parent, ok := u.Parent(); ok {
		if d, ok := find(parent); ok {
			return d, true
		}
	}
	return nil, false
}

func isInsertion(u Update) bool {
	switch u.(type) {
	case Insert, InsertAttribute:
		return true
	}
	return false
}

// rank orders updates at the same location: insertions first, then
// renames and value updates, then destructive updates.
func rank(u Update) int {
	switch u.(type) {
	case InsertAttribute, Insert:
		return 0
	case Rename, UpdateValue:
		return 1
	case Delete, Replace:
		return 2
	}
	panic(fmt.Sprintf("update: unknown update %T", u))
}

// compareSameLocation orders updates sharing a location. Insertions under a
// deeper parent come first so their content stays inside that parent, and
// attributes precede children of the same parent.
func compareSameLocation(a, b entry) int {
	if c := cmp.Compare(rank(a.u), rank(b.u)); c != 0 {
		return c
	}
	if pa, ok := a.u.Parent(); ok {
		pb, _ := b.u.Parent()
		if c := cmp.Compare(pb, pa); c != 0 {
			return c
		}
		_, aa := a.u.(InsertAttribute)
		_, ba := b.u.(InsertAttribute)
		if aa != ba {
			if aa {
				return -1
			}
			return 1
		}
	}
	return cmp.Compare(a.seq, b.seq)
}

func compareDocument(a, b entry) int {
	if c := cmp.Compare(a.u.Location(), b.u.Location()); c != 0 {
		return c
	}
	return compareSameLocation(a, b)
}

// compareApply is the application order: highest location first.
func compareApply(a, b entry) int {
	if c := cmp.Compare(b.u.Location(), a.u.Location()); c != 0 {
		return c
	}
	return compareSameLocation(a, b)
}

// accumulate assigns ApplyAt and Accumulated to updates in application
// order. Updates at one location form a contiguous group; the groups are
// walked from the lowest location up.
func accumulate(apply []entry) []Planned {
	plan := make([]Planned, len(apply))
	lower := 0
	for i := len(apply) - 1; i >= 0; {
		loc := apply[i].u.Location()
		j := i
		for j > 0 && apply[j-1].u.Location() == loc {
			j--
		}
		same := 0
		for k := j; k <= i; k++ {
			plan[k] = Planned{
				Update:      apply[k].u,
				Seq:         apply[k].seq,
				ApplyAt:     loc + same,
				Accumulated: lower + same,
			}
			same += apply[k].u.Shift()
		}
		lower += same
		i = j - 1
	}
	return plan
}

// Apply runs the batch against s: updates are applied from the highest
// location down, then parent distances are repaired in one pass. The first
// store error stops the batch and is returned wrapped in ErrBatchAborted.
// The list cannot be used afterwards.
func (l *List) Apply(s Store) error {
	switch l.state {
	case collecting:
		l.prepare()
	case sorted:
	default:
		panic(fmt.Sprintf("update: apply on a list that is %s", l.state))
	}
	l.stats.Discarded = len(l.discarded)
	metrics.UpdatesDiscarded.Add(float64(len(l.discarded)))

	if len(l.plan) == 0 {
		l.state = done
		metrics.Batches.WithLabelValues("empty").Inc()
		return nil
	}

	for _, p := range l.plan {
		if clip, ok := p.Update.InsertionClip(); ok && aliases(clip.Source(), s) {
			l.state = done
			metrics.Batches.WithLabelValues("rejected").Inc()
			return fmt.Errorf("%w: %s", ErrClipAliasesTarget, p.Update)
		}
	}

	start := time.Now()
	l.state = applying
	from := -1
	for i, p := range l.plan {
		if err := applyOne(s, p); err != nil {
			l.state = done
			metrics.Batches.WithLabelValues("aborted").Inc()
			l.log.Error("update batch aborted", "update", p.Update.String(), "index", i, "error", err)
			return fmt.Errorf("%w: update %d (%s): %w", ErrBatchAborted, i, p.Update, err)
		}
		metrics.UpdatesApplied.WithLabelValues(kindName(p.Update)).Inc()
		l.stats.Applied++
		l.stats.Shift += p.Update.Shift()
		if a := p.Update.AffectedFrom(); a >= 0 && (from < 0 || a+p.Accumulated < from) {
			from = a + p.Accumulated
		}
	}

	l.state = repairing
	repaired, err := repairDistances(s, from)
	l.stats.Repaired = repaired
	metrics.DistancesRepaired.Add(float64(repaired))
	l.state = done
	if err != nil {
		metrics.Batches.WithLabelValues("aborted").Inc()
		return fmt.Errorf("%w: distance repair: %w", ErrBatchAborted, err)
	}

	metrics.Batches.WithLabelValues("applied").Inc()
	l.log.Debug("update batch applied",
		"applied", l.stats.Applied,
		"discarded", l.stats.Discarded,
		"shift", l.stats.Shift,
		"repairedFrom", from,
		"repaired", repaired,
		"took", time.Since(start),
	)
	return nil
}

func applyOne(s Store, p Planned) error {
	at := p.ApplyAt
	switch u := p.Update.(type) {
	case Delete:
		return s.Delete(at)
	case Insert:
		return s.Insert(at, u.parent, u.clip)
	case InsertAttribute:
		return s.InsertAttribute(at, u.parent, u.clip)
	case Replace:
		return replace(s, at, u)
	case Rename:
		return s.Rename(at, u.kind, u.name, u.uri)
	case UpdateValue:
		return s.UpdateValue(at, u.kind, u.value)
	}
	panic(fmt.Sprintf("update: unknown update %T", p.Update))
}

// replace overwrites in place when no namespaces are involved and splits
// into a delete followed by an insert at the same position otherwise.
func replace(s Store, at int, u Replace) error {
	src := u.clip.Source()
	if u.kind != nodes.Attribute && s.NamespaceCount() == 0 && (src == nil || src.NamespaceCount() == 0) {
		return s.Replace(at, u.clip)
	}

	parent := s.Parent(at)
	if err := s.Delete(at); err != nil {
		return err
	}
	if u.clip.Empty() {
		return nil
	}
	if u.kind == nodes.Attribute {
		return s.InsertAttribute(at, parent, u.clip)
	}
	return s.Insert(at, parent, u.clip)
}

// identified is implemented by sources that can name the rows they read.
// A store wrapping a table shares the table's ID.
type identified interface {
	ID() uint64
}

// wrapper is implemented by stores and sources that read through another
// source.
type wrapper interface {
	Unwrap() nodes.Source
}

func unwrap(src nodes.Source) nodes.Source {
	for {
		w, ok := src.(wrapper)
		if !ok {
			return src
		}
		inner := w.Unwrap()
		if inner == nil {
			return src
		}
		src = inner
	}
}

func aliases(src nodes.Source, s Store) bool {
	if src == nil {
		return false
	}
	a, b := unwrap(src), unwrap(s)
	ia, aok := a.(identified)
	ib, bok := b.(identified)
	if aok && bok {
		return ia.ID() == ib.ID()
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return any(a) == any(b)
}

func kindName(u Update) string {
	switch u.(type) {
	case Delete:
		return "delete"
	case Insert:
		return "insert"
	case InsertAttribute:
		return "insert-attribute"
	case Replace:
		return "replace"
	case Rename:
		return "rename"
	case UpdateValue:
		return "update-value"
	}
	panic(fmt.Sprintf("update: unknown update %T", u))
}

// TranslatePre maps a PRE of the before-snapshot to its PRE after the
// batch, or -1 if the batch removes the node. It plans the list if needed.
func (l *List) TranslatePre(pre int) int {
	if l.state == collecting {
		l.prepare()
	}
	shift := 0
	for _, p := range l.plan {
		u := p.Update
		loc := u.Location()
		if u.Destructive() && pre >= loc && pre < loc+u.Span() {
			return -1
		}
		if loc < pre || (loc == pre && isInsertion(u)) {
			shift += u.Shift()
		}
	}
	return pre + shift
}
