package authz

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Operation is a storage-plane operation a key can authorize.
type Operation int

const (
	CreateDir Operation = iota
	WriteFile
	DeleteItem
	ReadFile
	ReadTree
)

var operationNames = [...]string{
	CreateDir:  "CREATE_DIR",
	WriteFile:  "WRITE_FILE",
	DeleteItem: "DELETE_ITEM",
	ReadFile:   "READ_FILE",
	ReadTree:   "READ_TREE",
}

// Operations lists every operation in wire order.
func Operations() []Operation {
	return []Operation{CreateDir, WriteFile, DeleteItem, ReadFile, ReadTree}
}

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	return op >= CreateDir && op <= ReadTree
}

func (op Operation) String() string {
	if !op.Valid() {
		return fmt.Sprintf("Operation(%d)", int(op))
	}
	return operationNames[op]
}

// Mutating reports whether op changes the cloud folder.
func (op Operation) Mutating() bool {
	return op == CreateDir || op == WriteFile || op == DeleteItem
}

// ParseOperation accepts a name ("WRITE_FILE", case-insensitive) or the
// numeric wire code ("1").
func ParseOperation(s string) (Operation, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		op := Operation(n)
		if !op.Valid() {
			return 0, fmt.Errorf("unknown operation %d", n)
		}
		return op, nil
	}
	for i, name := range operationNames {
		if strings.EqualFold(s, name) {
			return Operation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

func (op Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(op.String())
}

// UnmarshalJSON accepts both the name and the numeric code.
func (op *Operation) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		parsed := Operation(n)
		if !parsed.Valid() {
			return fmt.Errorf("unknown operation %d", n)
		}
		*op = parsed
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("operation must be a name or a number: %w", err)
	}
	parsed, err := ParseOperation(s)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}
