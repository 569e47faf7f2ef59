package dedup

import (
	"encoding/binary"
	"errors"
	"path/filepath"

	"github.com/tecbot/gorocksdb"

	"github.com/chenzhangda16/streamwin/pkg/hash"
)

// Long is the restart-surviving dedup horizon.
type Long interface {
	SeenOrAdd(key hash.Hash32, nowTs, ttlSec int64) (seen bool, err error)
	Evict(nowTs int64) error
	Close()
}

// Rocks implements Long on RocksDB. Layout:
//
//	"ev:"  + key(32)               -> expire ts   (membership check)
//	"evx:" + bucket(8) + ":" + key -> expire ts   (expiry sweep index)
//	"meta:last_clean_bucket"       -> bucket index the sweep has reached
//
// Expiries are grouped into bucketSec-wide buckets so Evict can sweep whole
// prefixes instead of scanning live keys.
type Rocks struct {
	db *gorocksdb.DB
	ro *gorocksdb.ReadOptions
	wo *gorocksdb.WriteOptions

	bucketSec int64

	lastCleanedBucket int64
}

var _ Long = (*Rocks)(nil)

const sweepBatchLimit = 5000

func OpenRocks(path string, bucketSec int64) (*Rocks, error) {
	if bucketSec <= 0 {
		return nil, errors.New("dedup: bucketSec must be > 0")
	}
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.IncreaseParallelism(2)

	db, err := gorocksdb.OpenDb(opts, path)
	if err != nil {
		return nil, err
	}

	d := &Rocks{
		db:        db,
		ro:        gorocksdb.NewDefaultReadOptions(),
		wo:        gorocksdb.NewDefaultWriteOptions(),
		bucketSec: bucketSec,
	}
	if err := d.loadLastCleanedBucket(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Rocks) Close() {
	if d.ro != nil {
		d.ro.Destroy()
	}
	if d.wo != nil {
		d.wo.Destroy()
	}
	if d.db != nil {
		d.db.Close()
	}
}

// SeenOrAdd reports whether key is live as of nowTs; if not, records it with
// expiry nowTs+ttlSec in both the main and index keyspaces.
func (d *Rocks) SeenOrAdd(key hash.Hash32, nowTs, ttlSec int64) (bool, error) {
	if ttlSec <= 0 {
		ttlSec = 1
	}
	expireTs := nowTs + ttlSec
	mainKey := makeMainKey(key)

	val, err := d.db.Get(d.ro, mainKey)
	if err != nil {
		return false, err
	}
	if val.Exists() {
		exp := decodeI64(val.Data())
		val.Free()
		if exp >= nowTs {
			return true, nil
		}
	} else {
		val.Free()
	}

	wb := gorocksdb.NewWriteBatch()
	defer wb.Destroy()
	wb.Put(mainKey, encodeI64(expireTs))
	wb.Put(makeIdxKey(expireTs/d.bucketSec, key), encodeI64(expireTs))

	if err := d.db.Write(d.wo, wb); err != nil {
		return false, err
	}
	return false, nil
}

// Evict sweeps every bucket strictly older than the current one, resuming
// where the previous sweep left off.
func (d *Rocks) Evict(nowTs int64) error {
	target := nowTs/d.bucketSec - 1
	if target <= d.lastCleanedBucket {
		return nil
	}
	for b := d.lastCleanedBucket + 1; b <= target; b++ {
		if err := d.cleanBucket(b); err != nil {
			return err
		}
		d.lastCleanedBucket = b
		if err := d.saveLastCleanedBucket(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Rocks) cleanBucket(bucket int64) error {
	prefix := makeIdxPrefix(bucket)
	it := d.db.NewIterator(d.ro)
	defer it.Close()

	wb := gorocksdb.NewWriteBatch()
	defer wb.Destroy()

	for it.Seek(prefix); it.Valid(); it.Next() {
		k := it.Key()
		if !hasPrefix(k.Data(), prefix) {
			k.Free()
			break
		}
		v := it.Value()

		key, ok := parseIdxKey(k.Data())
		expIdx := decodeI64(v.Data())
		wb.Delete(k.Data())

		if ok {
			mainKey := makeMainKey(key)
			mv, err := d.db.Get(d.ro, mainKey)
			if err != nil {
				k.Free()
				v.Free()
				return err
			}
			if mv.Exists() && decodeI64(mv.Data()) == expIdx {
				// Still the same generation; a re-added key would carry a
				// newer expiry and must survive the sweep.
				wb.Delete(mainKey)
			}
			mv.Free()
		}
		k.Free()
		v.Free()

		if wb.Count() >= sweepBatchLimit {
			if err := d.db.Write(d.wo, wb); err != nil {
				return err
			}
			wb.Clear()
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	if wb.Count() > 0 {
		return d.db.Write(d.wo, wb)
	}
	return nil
}

const metaLastCleanKey = "meta:last_clean_bucket"

func (d *Rocks) loadLastCleanedBucket() error {
	val, err := d.db.Get(d.ro, []byte(metaLastCleanKey))
	if err != nil {
		return err
	}
	defer val.Free()
	if !val.Exists() {
		d.lastCleanedBucket = -1
		return nil
	}
	d.lastCleanedBucket = decodeI64(val.Data())
	return nil
}

func (d *Rocks) saveLastCleanedBucket() error {
	return d.db.Put(d.wo, []byte(metaLastCleanKey), encodeI64(d.lastCleanedBucket))
}

func makeMainKey(key hash.Hash32) []byte {
	k := make([]byte, 0, 3+len(key))
	k = append(k, 'e', 'v', ':')
	return append(k, key[:]...)
}

func makeIdxPrefix(bucket int64) []byte {
	k := make([]byte, 0, 4+8+1)
	k = append(k, 'e', 'v', 'x', ':')
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], uint64(bucket))
	k = append(k, b8[:]...)
	return append(k, ':')
}

func makeIdxKey(bucket int64, key hash.Hash32) []byte {
	p := makeIdxPrefix(bucket)
	k := make([]byte, 0, len(p)+len(key))
	k = append(k, p...)
	return append(k, key[:]...)
}

func parseIdxKey(k []byte) (hash.Hash32, bool) {
	var h hash.Hash32
	if len(k) < 4+8+1+len(h) {
		return h, false
	}
	copy(h[:], k[len(k)-len(h):])
	return h, true
}

func hasPrefix(b, p []byte) bool {
	if len(b) < len(p) {
		return false
	}
	for i := range p {
		if b[i] != p[i] {
			return false
		}
	}
	return true
}

func encodeI64(x int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(x))
	return b[:]
}

func decodeI64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b[:8]))
}

// DefaultPath builds the conventional on-disk location under a data dir.
func DefaultPath(baseDir string) string {
	return filepath.Join(baseDir, "dedup.db")
}
