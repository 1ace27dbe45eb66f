package kv

// Walker is called for each (k,v) pair a Walk encounters. Returning
// (false, nil) stops the walk without error; returning a non-nil error stops
// the walk and propagates the error.
type Walker func(k, v []byte) (more bool, err error)

// Walk positions cursor at startKey (or the table's first entry if startKey
// is nil) and calls w for every subsequent entry until w returns false, an
// error occurs, or the table is exhausted. It is the lazy "sequence of
// (key,value) starting at a position" primitive the rest of this package
// builds range scans and unwinds on top of.
func Walk(c Cursor, startKey []byte, w Walker) error {
	var k, v []byte
	var err error
	if startKey == nil {
		k, v, err = c.First()
	} else {
		k, v, err = c.Seek(startKey)
	}
	if err != nil {
		return err
	}
	for k != nil {
		more, err := w(k, v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		k, v, err = c.Next()
		if err != nil {
			return err
		}
	}
	return nil
}

// WalkAscend is Walk restricted to keys <= endKey (inclusive), used wherever
// a stage needs a bounded range rather than a walk to end-of-table (e.g. the
// Senders stage's transaction range for a single commit chunk).
func WalkAscend(c Cursor, startKey, endKey []byte, w Walker) error {
	return Walk(c, startKey, func(k, v []byte) (bool, error) {
		if endKey != nil && bytesGreater(k, endKey) {
			return false, nil
		}
		return w(k, v)
	})
}

func bytesGreater(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) > len(b)
}
