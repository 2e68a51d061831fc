package packet

import (
	"fmt"
	"hash/crc32"
)

// TypeID is the wire-level discriminator of a message type. It is derived
// from the type's registered name, so both ends of a connection agree on it
// without agreeing on registration order.
type TypeID int32

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ComputeTypeID returns the CRC-32C of the UTF-8 bytes of name.
func ComputeTypeID(name string) TypeID {
	return TypeID(int32(crc32.Checksum([]byte(name), castagnoli)))
}

// String renders the id as unsigned hex, the form used in logs.
func (id TypeID) String() string {
	return fmt.Sprintf("0x%08x", uint32(id))
}
