package stun

import (
	"fmt"
	"net"

	"github.com/saintparish4/dim/pkg/buf"
)

// DecodeXORMappedAddress decodes an XOR-MAPPED-ADDRESS attribute. The XOR
// transform is its own inverse: encoding and decoding share this function.
func DecodeXORMappedAddress(attr *Attribute, transactionID [TransactionIDSize]byte) (*net.UDPAddr, error) {
	if attr.Type != AttrXORMappedAddress && attr.Type != AttrXORMappedAddrOld {
		return nil, fmt.Errorf("attribute is not XOR-MAPPED-ADDRESS")
	}
	return decodeXORAddress(attr.Value, transactionID)
}

func decodeXORAddress(value []byte, transactionID [TransactionIDSize]byte) (*net.UDPAddr, error) {
	if len(value) < 4 {
		return nil, fmt.Errorf("XOR address value too short: %d bytes", len(value))
	}

	b := buf.New(value)
	family := buf.UInt16(b, 0)
	xorPort := buf.UInt16(b, 2)
	port := xorPort ^ uint16(MagicCookie>>16)

	var ip net.IP
	switch family {
	case FamilyIPv4:
		if len(value) < 8 {
			return nil, fmt.Errorf("IPv4 address too short: %d bytes", len(value))
		}
		xorAddr := buf.UInt32(b, 4)
		addr := xorAddr ^ MagicCookie
		ip = make(net.IP, 4)
		buf.PutUInt32(ip, 0, addr)

	case FamilyIPv6:
		if len(value) < 20 {
			return nil, fmt.Errorf("IPv6 address too short: %d bytes", len(value))
		}
		key := xorKey(transactionID)
		ip = make(net.IP, 16)
		for i := 0; i < 16; i++ {
			ip[i] = value[4+i] ^ key[i]
		}

	default:
		return nil, fmt.Errorf("unsupported address family: 0x%02x", family)
	}

	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}

// xorKey returns the 16-byte XOR key for IPv6 addresses: the magic cookie
// followed by the transaction ID (RFC 5389 §15.2).
func xorKey(transactionID [TransactionIDSize]byte) []byte {
	key := make([]byte, 16)
	buf.PutUInt32(key, 0, MagicCookie)
	copy(key[4:16], transactionID[:])
	return key
}

// DecodeMappedAddress decodes a plain MAPPED-ADDRESS attribute.
func DecodeMappedAddress(attr *Attribute) (*net.UDPAddr, error) {
	if attr.Type != AttrMappedAddress {
		return nil, fmt.Errorf("attribute is not MAPPED-ADDRESS")
	}
	return decodePlainAddress(attr.Value)
}

func decodePlainAddress(value []byte) (*net.UDPAddr, error) {
	if len(value) < 4 {
		return nil, fmt.Errorf("address value too short: %d bytes", len(value))
	}

	b := buf.New(value)
	family := buf.UInt16(b, 0)
	port := buf.UInt16(b, 2)

	var ip net.IP
	switch family {
	case FamilyIPv4:
		if len(value) < 8 {
			return nil, fmt.Errorf("IPv4 address too short: %d bytes", len(value))
		}
		ip = make(net.IP, 4)
		copy(ip, value[4:8])
	case FamilyIPv6:
		if len(value) < 20 {
			return nil, fmt.Errorf("IPv6 address too short: %d bytes", len(value))
		}
		ip = make(net.IP, 16)
		copy(ip, value[4:20])
	default:
		return nil, fmt.Errorf("unsupported address family: 0x%04X", family)
	}

	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}

// EncodeXORMappedAddress builds an XOR-MAPPED-ADDRESS attribute.
func EncodeXORMappedAddress(addr *net.UDPAddr, transactionID [TransactionIDSize]byte) Attribute {
	value := encodeXORAddress(addr, transactionID)
	return Attribute{Type: AttrXORMappedAddress, Length: uint16(len(value)), Value: value}
}

func encodeXORAddress(addr *net.UDPAddr, transactionID [TransactionIDSize]byte) []byte {
	xorPort := uint16(addr.Port) ^ uint16(MagicCookie>>16)

	if ip4 := addr.IP.To4(); ip4 != nil {
		value := make([]byte, 8)
		buf.PutUInt16(value, 0, FamilyIPv4)
		buf.PutUInt16(value, 2, xorPort)
		addrInt := buf.UInt32(buf.New(ip4), 0)
		buf.PutUInt32(value, 4, addrInt^MagicCookie)
		return value
	}

	ip6 := addr.IP.To16()
	value := make([]byte, 20)
	buf.PutUInt16(value, 0, FamilyIPv6)
	buf.PutUInt16(value, 2, xorPort)
	key := xorKey(transactionID)
	for i := 0; i < 16; i++ {
		value[4+i] = ip6[i] ^ key[i]
	}
	return value
}

// EncodeMappedAddress builds a plain MAPPED-ADDRESS attribute.
func EncodeMappedAddress(addr *net.UDPAddr) Attribute {
	value := encodePlainAddress(addr)
	return Attribute{Type: AttrMappedAddress, Length: uint16(len(value)), Value: value}
}

func encodePlainAddress(addr *net.UDPAddr) []byte {
	if ip4 := addr.IP.To4(); ip4 != nil {
		value := make([]byte, 8)
		buf.PutUInt16(value, 0, FamilyIPv4)
		buf.PutUInt16(value, 2, uint16(addr.Port))
		copy(value[4:8], ip4)
		return value
	}

	ip6 := addr.IP.To16()
	value := make([]byte, 20)
	buf.PutUInt16(value, 0, FamilyIPv6)
	buf.PutUInt16(value, 2, uint16(addr.Port))
	copy(value[4:20], ip6)
	return value
}

// EncodeXORPeerAddress and EncodeXORRelayedAddress reuse the same XOR
// transform under TURN's peer/relayed attribute codes (RFC 5766 §14.3,
// §14.5).
func EncodeXORPeerAddress(addr *net.UDPAddr, transactionID [TransactionIDSize]byte) Attribute {
	value := encodeXORAddress(addr, transactionID)
	return Attribute{Type: AttrXORPeerAddress, Length: uint16(len(value)), Value: value}
}

func EncodeXORRelayedAddress(addr *net.UDPAddr, transactionID [TransactionIDSize]byte) Attribute {
	value := encodeXORAddress(addr, transactionID)
	return Attribute{Type: AttrXORRelayedAddress, Length: uint16(len(value)), Value: value}
}

func DecodeXORPeerAddress(attr *Attribute, transactionID [TransactionIDSize]byte) (*net.UDPAddr, error) {
	if attr.Type != AttrXORPeerAddress {
		return nil, fmt.Errorf("attribute is not XOR-PEER-ADDRESS")
	}
	return decodeXORAddress(attr.Value, transactionID)
}

func DecodeXORRelayedAddress(attr *Attribute, transactionID [TransactionIDSize]byte) (*net.UDPAddr, error) {
	if attr.Type != AttrXORRelayedAddress {
		return nil, fmt.Errorf("attribute is not XOR-RELAYED-ADDRESS")
	}
	return decodeXORAddress(attr.Value, transactionID)
}

// ChangeRequest flag bits (RFC 3489 §11.2.4).
const (
	ChangeIP   uint32 = 1 << 2
	ChangePort uint32 = 1 << 1
)

// EncodeChangeRequest builds a CHANGE-REQUEST attribute with the given
// flags.
func EncodeChangeRequest(changeIP, changePort bool) Attribute {
	var flags uint32
	if changeIP {
		flags |= ChangeIP
	}
	if changePort {
		flags |= ChangePort
	}
	value := make([]byte, 4)
	buf.PutUInt32(value, 0, flags)
	return Attribute{Type: AttrChangeRequest, Length: 4, Value: value}
}

// DecodeChangeRequest extracts the change-IP and change-port flags.
func DecodeChangeRequest(attr *Attribute) (changeIP, changePort bool, err error) {
	if attr.Type != AttrChangeRequest {
		return false, false, fmt.Errorf("attribute is not CHANGE-REQUEST")
	}
	if len(attr.Value) < 4 {
		return false, false, fmt.Errorf("CHANGE-REQUEST value too short: %d bytes", len(attr.Value))
	}
	flags := buf.UInt32(buf.New(attr.Value), 0)
	return flags&ChangeIP != 0, flags&ChangePort != 0, nil
}

// EncodeLifetime builds a LIFETIME attribute (seconds).
func EncodeLifetime(seconds uint32) Attribute {
	value := make([]byte, 4)
	buf.PutUInt32(value, 0, seconds)
	return Attribute{Type: AttrLifetime, Length: 4, Value: value}
}

// DecodeLifetime extracts the LIFETIME value in seconds.
func DecodeLifetime(attr *Attribute) (uint32, error) {
	if attr.Type != AttrLifetime {
		return 0, fmt.Errorf("attribute is not LIFETIME")
	}
	if len(attr.Value) < 4 {
		return 0, fmt.Errorf("LIFETIME value too short: %d bytes", len(attr.Value))
	}
	return buf.UInt32(buf.New(attr.Value), 0), nil
}

// EncodeData wraps payload in a DATA attribute (RFC 5766 §14.4).
func EncodeData(payload []byte) Attribute {
	return Attribute{Type: AttrData, Length: uint16(len(payload)), Value: payload}
}

// EncodeErrorCode builds an ERROR-CODE attribute (RFC 5389 §15.6): class
// and number packed into the low 11 bits of a 32-bit word, followed by a
// UTF-8 reason phrase. code must be in [300, 699].
func EncodeErrorCode(code int, reason string) Attribute {
	value := make([]byte, 4+len(reason))
	buf.PutUInt32(value, 0, uint32(code/100)<<8|uint32(code%100))
	copy(value[4:], reason)
	return Attribute{Type: AttrErrorCode, Length: uint16(len(value)), Value: value}
}

// DecodeErrorCode extracts the numeric status code and reason phrase from
// an ERROR-CODE attribute.
func DecodeErrorCode(attr *Attribute) (code int, reason string, err error) {
	if attr.Type != AttrErrorCode {
		return 0, "", fmt.Errorf("attribute is not ERROR-CODE")
	}
	if len(attr.Value) < 4 {
		return 0, "", fmt.Errorf("ERROR-CODE value too short: %d bytes", len(attr.Value))
	}
	word := buf.UInt32(buf.New(attr.Value), 0)
	class := (word >> 8) & 0x7
	number := word & 0xFF
	return int(class)*100 + int(number), string(attr.Value[4:]), nil
}
