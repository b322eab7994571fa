package node

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

const IdLen = 6

// Id is link-layer address of a node, e.g. ESP-NOW MAC.
type Id [IdLen]byte

var Zero Id

// ParseId accepts "4C:11:AE:70:47:AC", "4c-11-ae-70-47-ac" and "4C11AE7047AC".
func ParseId(s string) (Id, error) {
	var id Id
	clean := strings.NewReplacer(":", "", "-", "", " ", "").Replace(strings.TrimSpace(s))
	if len(clean) != IdLen*2 {
		return id, errors.NotValidf("node id=%q length", s)
	}
	if _, err := hex.Decode(id[:], []byte(clean)); err != nil {
		return id, errors.NewNotValid(err, fmt.Sprintf("node id=%q", s))
	}
	return id, nil
}

func MustParseId(s string) Id {
	id, err := ParseId(s)
	if err != nil {
		panic(err)
	}
	return id
}

func IdFromBytes(b []byte) (Id, error) {
	var id Id
	if len(b) != IdLen {
		return id, errors.NotValidf("node id bytes len=%d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id Id) IsZero() bool { return id == Zero }

func (id Id) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", id[0], id[1], id[2], id[3], id[4], id[5])
}

// Hex is compact form nodes use as deviceId.
func (id Id) Hex() string { return strings.ToUpper(hex.EncodeToString(id[:])) }
