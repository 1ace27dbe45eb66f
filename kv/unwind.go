package kv

// UnwindByNumber removes every row in table whose primary key, read as an
// 8-byte big-endian block number, is greater than n. Used for tables keyed
// directly by block number (e.g. CanonicalHeaders).
func UnwindByNumber(tx RwTx, table string, n uint64) error {
	c, err := tx.RwCursor(table)
	if err != nil {
		return err
	}
	defer c.Close()

	threshold := EncodeBlockNumber(n + 1)
	k, _, err := c.Seek(threshold)
	if err != nil {
		return err
	}
	for k != nil {
		if err := c.Delete(k); err != nil {
			return err
		}
		k, _, err = c.Next()
		if err != nil {
			return err
		}
	}
	return nil
}

// UnwindByNumHash removes every row in table whose key is a (number,hash)
// composite with number > n. Because composite keys sort by number first,
// this is the same walk as UnwindByNumber starting from the first key of
// block n+1, so it just delegates.
func UnwindByNumHash(tx RwTx, table string, n uint64) error {
	return UnwindByNumber(tx, table, n)
}

// UnwindByWalker drops rows of a data table whose logical order is a block
// number, but whose primary key is some other identifier (typically a
// hash) recorded in a secondary index table. For each key k in indexTable
// with a (number-valued) value > n, it removes dataTable[k], then removes
// the index rows themselves. keyToDataKey lets the index key be transformed before it is used to look
// up the data row (identity for HeaderNumbers, since its key is already the
// header hash used directly as part of other tables' prefixes).
func UnwindByWalker(tx RwTx, indexTable, dataTable string, n uint64, keyToDataKey func(indexKey []byte) []byte) error {
	idx, err := tx.RwCursor(indexTable)
	if err != nil {
		return err
	}
	defer idx.Close()

	type pending struct{ indexKey []byte }
	var toDrop []pending

	if err := Walk(idx, nil, func(k, v []byte) (bool, error) {
		if DecodeBlockNumber(v) > n {
			toDrop = append(toDrop, pending{indexKey: append([]byte(nil), k...)})
		}
		return true, nil
	}); err != nil {
		return err
	}

	if dataTable != "" {
		for _, p := range toDrop {
			dataKey := p.indexKey
			if keyToDataKey != nil {
				dataKey = keyToDataKey(p.indexKey)
			}
			if err := tx.Delete(dataTable, dataKey); err != nil {
				return err
			}
		}
	}
	for _, p := range toDrop {
		if err := tx.Delete(indexTable, p.indexKey); err != nil {
			return err
		}
	}
	return nil
}
