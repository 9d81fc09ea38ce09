package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasSessionID uint16 = 1 << iota
	hasAuthToken
	hasVersion
	hasClientID
	hasUser
	hasCommand
	hasPayload
	hasErrType
	hasErr
	hasMeta
)

// header: 1 byte MsgType + 2 bytes flags
const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, b.sizeBytes(msg))

	// Write message type
	result[0] = byte(msg.MsgType)

	var flags uint16
	pos := headerSize

	if msg.SessionID != 0 {
		flags |= hasSessionID
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(msg.SessionID))
		pos += 8
	}

	if msg.AuthToken != 0 {
		flags |= hasAuthToken
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(msg.AuthToken))
		pos += 8
	}

	if msg.ProtocolVersion != 0 {
		flags |= hasVersion
		binary.BigEndian.PutUint16(result[pos:pos+2], msg.ProtocolVersion)
		pos += 2
	}

	if msg.ClientID != "" {
		flags |= hasClientID
		pos = putBytes(result, pos, []byte(msg.ClientID))
	}

	if msg.User != "" {
		flags |= hasUser
		pos = putBytes(result, pos, []byte(msg.User))
	}

	if msg.Command != "" {
		flags |= hasCommand
		pos = putBytes(result, pos, []byte(msg.Command))
	}

	if msg.Payload != nil {
		flags |= hasPayload
		pos = putBytes(result, pos, msg.Payload)
	}

	if msg.ErrType != common.ErrTGeneral {
		flags |= hasErrType
		result[pos] = byte(msg.ErrType)
		pos += 1
	}

	if msg.Err != "" {
		flags |= hasErr
		pos = putBytes(result, pos, []byte(msg.Err))
	}

	if msg.Meta != nil {
		flags |= hasMeta
		pos = putBytes(result, pos, msg.Meta)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	flags := binary.BigEndian.Uint16(data[1:3])
	pos := headerSize

	var err error

	msg.SessionID = 0
	if flags&hasSessionID != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for SessionID")
		}
		msg.SessionID = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
	}

	msg.AuthToken = 0
	if flags&hasAuthToken != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for AuthToken")
		}
		msg.AuthToken = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
	}

	msg.ProtocolVersion = 0
	if flags&hasVersion != 0 {
		if pos+2 > len(data) {
			return fmt.Errorf("data too short for ProtocolVersion")
		}
		msg.ProtocolVersion = binary.BigEndian.Uint16(data[pos : pos+2])
		pos += 2
	}

	msg.ClientID = ""
	if flags&hasClientID != 0 {
		var raw []byte
		if raw, pos, err = readBytes(data, pos, "client id"); err != nil {
			return err
		}
		msg.ClientID = string(raw)
	}

	msg.User = ""
	if flags&hasUser != 0 {
		var raw []byte
		if raw, pos, err = readBytes(data, pos, "user"); err != nil {
			return err
		}
		msg.User = string(raw)
	}

	msg.Command = ""
	if flags&hasCommand != 0 {
		var raw []byte
		if raw, pos, err = readBytes(data, pos, "command"); err != nil {
			return err
		}
		msg.Command = string(raw)
	}

	msg.Payload = nil
	if flags&hasPayload != 0 {
		var raw []byte
		if raw, pos, err = readBytes(data, pos, "payload"); err != nil {
			return err
		}
		// copy, the frame buffer may be reused by the transport
		msg.Payload = append(make([]byte, 0, len(raw)), raw...)
	}

	msg.ErrType = common.ErrTGeneral
	if flags&hasErrType != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for ErrType")
		}
		msg.ErrType = common.ErrorType(data[pos])
		pos += 1
	}

	msg.Err = ""
	if flags&hasErr != 0 {
		var raw []byte
		if raw, pos, err = readBytes(data, pos, "error"); err != nil {
			return err
		}
		msg.Err = string(raw)
	}

	msg.Meta = nil
	if flags&hasMeta != 0 {
		var raw []byte
		if raw, _, err = readBytes(data, pos, "meta"); err != nil {
			return err
		}
		msg.Meta = append(make([]byte, 0, len(raw)), raw...)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	if msg.SessionID != 0 {
		size += 8
	}
	if msg.AuthToken != 0 {
		size += 8
	}
	if msg.ProtocolVersion != 0 {
		size += 2
	}
	if msg.ClientID != "" {
		size += 4 + len(msg.ClientID)
	}
	if msg.User != "" {
		size += 4 + len(msg.User)
	}
	if msg.Command != "" {
		size += 4 + len(msg.Command)
	}
	if msg.Payload != nil {
		size += 4 + len(msg.Payload)
	}
	if msg.ErrType != common.ErrTGeneral {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}

	return size
}

// putBytes writes a length prefixed byte slice and returns the new position
func putBytes(dst []byte, pos int, src []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(src)))
	pos += 4
	copy(dst[pos:pos+len(src)], src)
	return pos + len(src)
}

// readBytes reads a length prefixed byte slice without copying
func readBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}
	return data[pos : pos+n], pos + n, nil
}
