package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"khata/internal/domain"
)

// DefaultWindow is how many of the most recent entries a history view shows.
const DefaultWindow = 20

// Ref locates a line inside a book: record index, then line index within that record's note.
type Ref struct {
	Record int
	Line   int
}

// Item is one entry of the party-wide chain.
type Item struct {
	Ref      `json:"-"`
	RecordID string `json:"record_id"`
	Entry    Entry  `json:"entry"`
}

// Anomaly is a record whose stored amount is not backed by any parseable entry.
type Anomaly struct {
	RecordID string          `json:"record_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// Book holds every ledger record of one party and applies mutations to
// their notes in memory. Nothing is persisted; Commit reports what changed.
type Book struct {
	records  []domain.LedgerRecord
	original []domain.LedgerRecord
	lines    [][]Line
	parsed   []int
	touched  map[int]bool
}

// Open parses the party's records. The earliest created record is primary.
func Open(records []domain.LedgerRecord, today time.Time) *Book {
	recs := append([]domain.LedgerRecord(nil), records...)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	b := &Book{
		records:  recs,
		original: append([]domain.LedgerRecord(nil), recs...),
		lines:    make([][]Line, len(recs)),
		parsed:   make([]int, len(recs)),
		touched:  map[int]bool{},
	}
	for i, r := range recs {
		b.lines[i] = ParseNote(r.Note, today)
		b.parsed[i] = b.entryCount(i)
	}
	return b
}

func (b *Book) Records() []domain.LedgerRecord {
	return append([]domain.LedgerRecord(nil), b.records...)
}

func (b *Book) entryCount(rec int) int {
	n := 0
	for _, l := range b.lines[rec] {
		if l.Entry != nil {
			n++
		}
	}
	return n
}

// chain returns all entries across records in chronological order. Entries
// with equal timestamps keep record order, then line order.
func (b *Book) chain() []Item {
	var items []Item
	for ri, lines := range b.lines {
		for li, l := range lines {
			if l.Entry == nil {
				continue
			}
			items = append(items, Item{Ref: Ref{Record: ri, Line: li}, RecordID: b.records[ri].ID, Entry: *l.Entry})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Entry.At.Before(items[j].Entry.At) })
	return items
}

// replay recomputes running balances in place, clamping at zero after every
// step, and returns the final balance.
func replay(items []Item) decimal.Decimal {
	bal := decimal.Zero
	for i := range items {
		e := &items[i].Entry
		if e.Credit() {
			bal = bal.Add(e.Amount)
		} else {
			bal = bal.Sub(e.Amount)
		}
		if bal.IsNegative() {
			bal = decimal.Zero
		}
		e.Balance = bal
	}
	return bal
}

// Entries returns the chain with freshly replayed balances.
func (b *Book) Entries() []Item {
	items := b.chain()
	replay(items)
	return items
}

// Balance is the party's outstanding amount after a full replay.
func (b *Book) Balance() decimal.Decimal {
	return replay(b.chain())
}

// Status is pending while the replayed balance is positive.
func (b *Book) Status() domain.LedgerStatus {
	return statusFor(b.Balance())
}

func statusFor(bal decimal.Decimal) domain.LedgerStatus {
	if bal.GreaterThan(decimal.Zero) {
		return domain.LedgerPending
	}
	return domain.LedgerPaid
}

// Window returns the visible tail of the chain and the offset of its first item.
func (b *Book) Window(size int) ([]Item, int) {
	items := b.Entries()
	offset := windowOffset(len(items), size)
	return items[offset:], offset
}

func windowOffset(total, size int) int {
	if size <= 0 {
		size = DefaultWindow
	}
	if total > size {
		return total - size
	}
	return 0
}

// TrueIndex maps an index in the visible window to a chain index.
func (b *Book) TrueIndex(visible, size int) (int, error) {
	total := len(b.chain())
	offset := windowOffset(total, size)
	if visible < 0 || offset+visible >= total {
		return 0, domain.Violation(domain.ErrEntryNotFound, "visible index %d of %d", visible, total-offset)
	}
	return offset + visible, nil
}

// Anomalies lists records holding a nonzero amount with no entries behind it.
func (b *Book) Anomalies() []Anomaly {
	var res []Anomaly
	for i, r := range b.records {
		if b.entryCount(i) == 0 && !r.Amount.IsZero() {
			res = append(res, Anomaly{RecordID: r.ID, Amount: r.Amount})
		}
	}
	return res
}

// Append adds a new entry to the primary record.
func (b *Book) Append(kind Kind, amount decimal.Decimal, at time.Time) error {
	if !kind.Valid() {
		return domain.Violation(domain.ErrInvalidAmount, "unknown entry kind %q", kind)
	}
	if !amount.IsPositive() {
		return domain.Violation(domain.ErrInvalidAmount, "%s", amount)
	}
	if len(b.records) == 0 {
		return domain.Violation(domain.ErrNoRecord, "")
	}
	return b.appendTo(0, kind, amount, at)
}

// AppendTo adds an entry to a specific record, used when opening a new due record.
func (b *Book) AppendTo(recordID string, kind Kind, amount decimal.Decimal, at time.Time) error {
	if !kind.Valid() {
		return domain.Violation(domain.ErrInvalidAmount, "unknown entry kind %q", kind)
	}
	if !amount.IsPositive() {
		return domain.Violation(domain.ErrInvalidAmount, "%s", amount)
	}
	idx := b.indexOf(recordID)
	if idx < 0 {
		return domain.Violation(domain.ErrNoRecord, "%s", recordID)
	}
	return b.appendTo(idx, kind, amount, at)
}

func (b *Book) appendTo(idx int, kind Kind, amount decimal.Decimal, at time.Time) error {
	if b.entryCount(idx) == 0 && !b.records[idx].Amount.IsZero() {
		return domain.Violation(domain.ErrAnomalous, "%s", b.records[idx].ID)
	}
	e := Entry{At: WallClock(at), HasTime: true, Kind: kind, Amount: amount}
	b.lines[idx] = append(b.lines[idx], Line{Entry: &e})
	b.touched[idx] = true
	return nil
}

// EditLatest replaces the amount of the most recent entry in the chain.
func (b *Book) EditLatest(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.Violation(domain.ErrInvalidAmount, "%s", amount)
	}
	items := b.chain()
	if len(items) == 0 {
		return domain.Violation(domain.ErrNoEntries, "")
	}
	last := items[len(items)-1]
	line := b.lines[last.Record][last.Line]
	if line.Entry.Legacy {
		return domain.Violation(domain.ErrLegacyEntry, "%s", line.Text)
	}
	edited := *line.Entry
	edited.Amount = amount
	b.lines[last.Record][last.Line].Entry = &edited
	b.touched[last.Record] = true
	return nil
}

// Delete removes the entry at a chain index.
func (b *Book) Delete(index int) error {
	return b.DeleteMany([]int{index})
}

// DeleteMany removes several chain entries at once. Indexes refer to the
// chain before any removal.
func (b *Book) DeleteMany(indexes []int) error {
	items := b.chain()
	if len(indexes) == 0 {
		return domain.Violation(domain.ErrEntryNotFound, "no entries selected")
	}
	drop := map[int]map[int]bool{}
	for _, idx := range indexes {
		if idx < 0 || idx >= len(items) {
			return domain.Violation(domain.ErrEntryNotFound, "index %d of %d", idx, len(items))
		}
		ref := items[idx].Ref
		if drop[ref.Record] == nil {
			drop[ref.Record] = map[int]bool{}
		}
		drop[ref.Record][ref.Line] = true
	}
	for ri, lines := range drop {
		kept := b.lines[ri][:0:0]
		for li, l := range b.lines[ri] {
			if !lines[li] {
				kept = append(kept, l)
			}
		}
		b.lines[ri] = kept
		b.touched[ri] = true
	}
	return nil
}

// Clear zeroes an anomalous record and leaves an audit line in its note.
func (b *Book) Clear(recordID string, at time.Time) error {
	idx := b.indexOf(recordID)
	if idx < 0 {
		return domain.Violation(domain.ErrNoRecord, "%s", recordID)
	}
	r := b.records[idx]
	if b.entryCount(idx) > 0 || r.Amount.IsZero() {
		return domain.Violation(domain.ErrNotAnomalous, "%s", recordID)
	}
	b.lines[idx] = append(b.lines[idx], Line{Text: clearedLine(r.Amount, WallClock(at))})
	b.records[idx].Amount = decimal.Zero
	b.records[idx].Status = domain.LedgerPaid
	b.touched[idx] = true
	return nil
}

func (b *Book) indexOf(recordID string) int {
	for i, r := range b.records {
		if r.ID == recordID {
			return i
		}
	}
	return -1
}

// Commit replays the whole chain once, rewrites every note, and returns the
// records whose note, amount or status differ from what was opened. Every
// record holding entries carries the party's final balance.
func (b *Book) Commit() []domain.LedgerRecord {
	items := b.chain()
	final := replay(items)
	for _, it := range items {
		e := it.Entry
		b.lines[it.Record][it.Line].Entry = &e
	}
	var changed []domain.LedgerRecord
	for i := range b.records {
		hasEntries := b.entryCount(i) > 0
		if !hasEntries && !b.touched[i] {
			continue
		}
		r := &b.records[i]
		r.Note = render(b.lines[i])
		switch {
		case hasEntries:
			r.Amount = final
			r.Status = statusFor(final)
		case b.parsed[i] > 0:
			// every entry of this record was deleted
			r.Amount = decimal.Zero
			r.Status = domain.LedgerPaid
		}
		o := b.original[i]
		if r.Note != o.Note || !r.Amount.Equal(o.Amount) || r.Status != o.Status {
			changed = append(changed, *r)
		}
	}
	return changed
}

func render(lines []Line) string {
	out := make([]byte, 0, 64*len(lines))
	for i, l := range lines {
		if i > 0 {
			out = append(out, '\n')
		}
		if l.Entry != nil && !l.Entry.Legacy {
			out = append(out, FormatLine(*l.Entry)...)
		} else {
			out = append(out, l.Text...)
		}
	}
	return string(out)
}
