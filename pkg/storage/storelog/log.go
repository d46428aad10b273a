package storelog

// Log is the thin capability both log variants share. The two concrete
// types diverge enough below this surface — sealed-head tracking versus
// a two-headed splice point — that sharing implementation beyond the
// page/entry primitives would obscure more than it saves.
type Log interface {
	Append(size, typ uint32) *LogEntry
}

var (
	_ Log = (*OrderedLog)(nil)
	_ Log = (*UnorderedLog)(nil)
)
