package kv

// Table names: the four header tables, the flat transaction log and its
// derived sender index, the block-body index, and the per-stage progress
// checkpoint.
const (
	// CanonicalHeaders: block number -> header hash. Ascending by key.
	CanonicalHeaders = "CanonicalHeaders"

	// HeaderNumbers: header hash -> block number. Unordered (hash keyed).
	HeaderNumbers = "HeaderNumbers"

	// Headers: (number,hash) composite key -> header body. Ascending by
	// (number,hash).
	Headers = "Headers"

	// HeaderTD: (number,hash) composite key -> cumulative total difficulty.
	HeaderTD = "HeaderTD"

	// BlockBodies: (number,hash) composite key -> encoded types.BlockBody
	// {FirstTxIndex, TxCount}.
	BlockBodies = "BlockBodies"

	// Transactions: monotonic tx index -> transaction record.
	Transactions = "Transactions"

	// TxSenders: tx index -> recovered sender address.
	TxSenders = "TxSenders"

	// StageProgress: stage id -> last committed block number.
	StageProgress = "StageProgress"
)

// TableCfgItem describes a single table. Keys and values are opaque byte
// sequences with schema-specific encodings that live outside this package;
// this registry exists so generic tooling (the dbstats/list CLI commands,
// table migrators) can enumerate every table without hard-coding them.
type TableCfgItem struct {
	Name string
}

type TableCfg map[string]TableCfgItem

// ChainTables is the full registry of tables this module creates on
// database initialization. Tables are created once; rows are appended
// during forward execution and removed during unwind — deletion never
// happens outside unwind.
var ChainTables = TableCfg{
	CanonicalHeaders: {Name: CanonicalHeaders},
	HeaderNumbers:    {Name: HeaderNumbers},
	Headers:          {Name: Headers},
	HeaderTD:         {Name: HeaderTD},
	BlockBodies:      {Name: BlockBodies},
	Transactions:     {Name: Transactions},
	TxSenders:        {Name: TxSenders},
	StageProgress:    {Name: StageProgress},
}

// TableNames returns the registered table names, used by the CLI's dbstats
// and list subcommands to validate a user-supplied table argument instead of
// hard-coding a fixed pair of tables.
func TableNames() []string {
	names := make([]string, 0, len(ChainTables))
	for name := range ChainTables {
		names = append(names, name)
	}
	return names
}
