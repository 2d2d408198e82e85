package types

// Aggregate is the merged content of one output channel. Sources lists the
// modules that contributed, in merge order.
type Aggregate struct {
	Channel  string
	Filename string
	Content  []byte
	Sources  []AssetID
}
