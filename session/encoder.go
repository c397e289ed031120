package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	snapshotFormatVersionCurrent = 2
	snapshotFormatVersionV1      = 1
)

const (
	flagIdentity byte = 1 << iota
	flagLoading
	flagInitialized
	flagActive
)

// ErrSnapshotCorrupt is returned when a stored snapshot cannot be decoded.
var ErrSnapshotCorrupt = errors.New("session snapshot corrupt")

// Encode serializes st into the current snapshot format.
//
// Layout (big endian): version, flags, phase, role, id int64, three
// length-prefixed strings (display name, username, email), updatedAt int64
// and, from v2, the credential expiry int64.
func Encode(st State) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(snapshotFormatVersionCurrent)

	var flags byte
	if st.Identity != nil {
		flags |= flagIdentity
		if st.Identity.IsActive {
			flags |= flagActive
		}
	}
	if st.Loading {
		flags |= flagLoading
	}
	if st.Initialized {
		flags |= flagInitialized
	}
	buf.WriteByte(flags)
	buf.WriteByte(byte(st.Phase))

	id := st.Identity
	if id == nil {
		id = &Identity{}
	}
	buf.WriteByte(byte(id.Role))
	if err := binary.Write(&buf, binary.BigEndian, id.ID); err != nil {
		return nil, err
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"displayName", id.DisplayName},
		{"username", id.Username},
		{"email", id.Email},
	} {
		if len(field.value) > 255 {
			return nil, fmt.Errorf("%s too long", field.name)
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	if err := binary.Write(&buf, binary.BigEndian, st.UpdatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, id.ExpiresAt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a snapshot produced by Encode. Older versions are migrated
// forward on read.
func Decode(data []byte) (State, error) {
	st, err := decode(data)
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	return st, nil
}

func decode(data []byte) (State, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return State{}, err
	}
	if version != snapshotFormatVersionCurrent && version != snapshotFormatVersionV1 {
		return State{}, errors.New("invalid snapshot version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return State{}, err
	}
	phase, err := reader.ReadByte()
	if err != nil {
		return State{}, err
	}
	if Phase(phase) > PhaseSettled {
		return State{}, errors.New("invalid phase")
	}
	role, err := reader.ReadByte()
	if err != nil {
		return State{}, err
	}
	if Role(role) > RoleElevated {
		return State{}, errors.New("invalid role")
	}

	id := &Identity{Role: Role(role), IsActive: flags&flagActive != 0}
	if err := binary.Read(reader, binary.BigEndian, &id.ID); err != nil {
		return State{}, err
	}
	for _, dst := range []*string{&id.DisplayName, &id.Username, &id.Email} {
		n, err := reader.ReadByte()
		if err != nil {
			return State{}, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return State{}, err
		}
		*dst = string(raw)
	}

	st := State{
		Loading:     flags&flagLoading != 0,
		Initialized: flags&flagInitialized != 0,
		Phase:       Phase(phase),
	}
	if err := binary.Read(reader, binary.BigEndian, &st.UpdatedAt); err != nil {
		return State{}, err
	}
	if version == snapshotFormatVersionCurrent {
		if err := binary.Read(reader, binary.BigEndian, &id.ExpiresAt); err != nil {
			return State{}, err
		}
	}
	if reader.Len() != 0 {
		return State{}, errors.New("trailing bytes")
	}

	if flags&flagIdentity != 0 {
		st.Identity = id
	}
	return st, nil
}
