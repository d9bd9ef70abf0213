package password

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

var b64 = base64.RawStdEncoding

// phc is a decoded $argon2id$ string.
type phc struct {
	params Params
	salt   []byte
	key    []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.params.Memory, p.params.Time, p.params.Threads,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func parsePHC(s string) (phc, error) {
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" ||
		fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return phc{}, ErrMalformedHash
	}

	var out phc
	seen := 0
	for _, kv := range strings.Split(fields[3], ",") {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return phc{}, ErrMalformedHash
		}
		bits := 32
		if name == "p" {
			bits = 8
		}
		n, err := strconv.ParseUint(raw, 10, bits)
		if err != nil || n == 0 {
			return phc{}, ErrMalformedHash
		}
		switch name {
		case "m":
			out.params.Memory = uint32(n)
		case "t":
			out.params.Time = uint32(n)
		case "p":
			out.params.Threads = uint8(n)
		default:
			return phc{}, ErrMalformedHash
		}
		seen++
	}
	if seen != 3 || out.params.Memory == 0 || out.params.Time == 0 || out.params.Threads == 0 {
		return phc{}, ErrMalformedHash
	}

	var err error
	if out.salt, err = b64.DecodeString(fields[4]); err != nil {
		return phc{}, ErrMalformedHash
	}
	if out.key, err = b64.DecodeString(fields[5]); err != nil {
		return phc{}, ErrMalformedHash
	}
	out.params.SaltLen = uint32(len(out.salt)) // #nosec G115 -- bounded by the encoded string
	out.params.KeyLen = uint32(len(out.key))   // #nosec G115 -- bounded by the encoded string
	return out, nil
}
