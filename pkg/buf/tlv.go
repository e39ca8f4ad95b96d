package buf

// TLV is a tag-length-value view over a Buffer. Value is a zero-copy slice
// of the buffer that was parsed.
type TLV struct {
	Tag   uint16
	Value Buffer
}

// TagSize/LengthSize describe one of the two TLV shape families in use on
// the wire: STUN-style frames a 2-byte tag and 2-byte length with the value
// padded to a 4-byte boundary; DMTP-style frames a 1-byte tag and 1-byte
// length with no padding.
type Family struct {
	TagSize    int
	LengthSize int
	Pad4       bool
}

// STUNFamily is the 2/2-byte, 4-byte-padded TLV shape used by STUN and TURN
// attributes.
var STUNFamily = Family{TagSize: 2, LengthSize: 2, Pad4: true}

// DMTPFamily is the 1/1-byte, unpadded TLV shape used by DMTP fields.
var DMTPFamily = Family{TagSize: 1, LengthSize: 1, Pad4: false}

func readTag(b Buffer, offset, size int) uint16 {
	if size == 1 {
		return uint16(UInt8(b, offset))
	}
	return UInt16(b, offset)
}

func readLength(b Buffer, offset, size int) int {
	if size == 1 {
		return int(UInt8(b, offset))
	}
	return int(UInt16(b, offset))
}

// Parse decodes a sequence of TLVs from b according to family. Parsing is
// zero-copy: each returned Value references a sub-range of b. A truncated
// TLV (the length field claims more bytes than remain) stops parsing and
// returns the well-formed prefix along with the count of residual
// (unparsed) trailing bytes. Unknown tags never abort parsing — tag
// interpretation is the caller's responsibility.
func Parse(b Buffer, family Family) (tlvs []TLV, residual int) {
	offset := 0
	headerSize := family.TagSize + family.LengthSize

	for offset < b.Len() {
		if offset+headerSize > b.Len() {
			return tlvs, b.Len() - offset
		}

		tag := readTag(b, offset, family.TagSize)
		length := readLength(b, offset+family.TagSize, family.LengthSize)

		valueStart := offset + headerSize
		valueEnd := valueStart + length
		if valueEnd > b.Len() {
			return tlvs, b.Len() - offset
		}

		tlvs = append(tlvs, TLV{Tag: tag, Value: b.Slice(valueStart, valueEnd)})

		advance := headerSize + length
		if family.Pad4 {
			advance = headerSize + Pad4(length)
		}
		offset += advance
	}

	return tlvs, 0
}

// Encode serializes a single tag/value pair according to family.
func Encode(tag uint16, value []byte, family Family) []byte {
	headerSize := family.TagSize + family.LengthSize
	valueLen := len(value)
	totalLen := headerSize + valueLen
	if family.Pad4 {
		totalLen = headerSize + Pad4(valueLen)
	}

	out := make([]byte, totalLen)

	if family.TagSize == 1 {
		out[0] = byte(tag)
	} else {
		PutUInt16(out, 0, tag)
	}
	if family.LengthSize == 1 {
		out[family.TagSize] = byte(valueLen)
	} else {
		PutUInt16(out, family.TagSize, uint16(valueLen))
	}
	copy(out[headerSize:], value)

	return out
}
