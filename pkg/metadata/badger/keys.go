package badger

import (
	"encoding/binary"
	"fmt"
)

// Key layout
//
//	d:<id>                  -> JSON DirectoryRecord
//	dc:<parent>:<name>      -> directory id (8 bytes, big endian)
//	f:<id>                  -> JSON FileRecord
//	fc:<parent>:<name>      -> file id (8 bytes, big endian)
//	a:<id>                  -> JSON AuditRecord
//
// <id> is 16 hex digits so prefix iteration yields ids in ascending order.
// <parent> is the parent's <id>, or "root" for entries at the cloud root.
const (
	prefixDirectory      = "d:"
	prefixDirectoryChild = "dc:"
	prefixFile           = "f:"
	prefixFileChild      = "fc:"
	prefixAudit          = "a:"

	sequenceKey = "seq:id"
	rootParent  = "root"
)

func formatID(id int64) string {
	return fmt.Sprintf("%016x", uint64(id))
}

func parentSegment(parent *int64) string {
	if parent == nil {
		return rootParent
	}
	return formatID(*parent)
}

func keyDirectory(id int64) []byte {
	return []byte(prefixDirectory + formatID(id))
}

func keyDirectoryChild(parent *int64, name string) []byte {
	return []byte(prefixDirectoryChild + parentSegment(parent) + ":" + name)
}

func keyDirectoryChildPrefix(parent int64) []byte {
	return []byte(prefixDirectoryChild + formatID(parent) + ":")
}

func keyFile(id int64) []byte {
	return []byte(prefixFile + formatID(id))
}

func keyFileChild(parent *int64, name string) []byte {
	return []byte(prefixFileChild + parentSegment(parent) + ":" + name)
}

func keyFileChildPrefix(parent int64) []byte {
	return []byte(prefixFileChild + formatID(parent) + ":")
}

func keyAudit(id int64) []byte {
	return []byte(prefixAudit + formatID(id))
}

func encodeID(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func decodeID(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid id encoding: %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
