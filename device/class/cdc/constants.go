package cdc

import "encoding/binary"

// Class, subclass, and protocol codes (CDC 1.2 section 4).
const (
	ClassCDC     = 0x02
	ClassCDCData = 0x0A

	SubclassACM = 0x02 // Abstract Control Model

	ProtocolNone = 0x00
	ProtocolAT   = 0x01 // AT commands, V.250
)

// Class-specific descriptor types.
const (
	DescriptorTypeCSInterface = 0x24
	DescriptorTypeCSEndpoint  = 0x25
)

// Functional descriptor subtypes used by ACM.
const (
	SubtypeHeader         = 0x00
	SubtypeCallManagement = 0x01
	SubtypeACM            = 0x02
	SubtypeUnion          = 0x06
)

// Class-specific request codes (CDC 1.2 Table 19).
const (
	RequestSendEncapsulatedCommand = 0x00
	RequestGetEncapsulatedResponse = 0x01
	RequestSetLineCoding           = 0x20
	RequestGetLineCoding           = 0x21
	RequestSetControlLineState     = 0x22
	RequestSendBreak               = 0x23
)

// Notification codes (CDC 1.2 Table 20).
const (
	NotificationNetworkConnection = 0x00
	NotificationResponseAvailable = 0x01
	NotificationSerialState       = 0x20
)

// Control line state bits carried by SET_CONTROL_LINE_STATE.
const (
	ControlLineDTR = 1 << 0
	ControlLineRTS = 1 << 1
)

// Serial state bits carried by the SERIAL_STATE notification.
const (
	SerialStateRxCarrier  = 1 << 0 // DCD
	SerialStateTxCarrier  = 1 << 1 // DSR
	SerialStateBreak      = 1 << 2
	SerialStateRingSignal = 1 << 3
	SerialStateFraming    = 1 << 4
	SerialStateParity     = 1 << 5
	SerialStateOverrun    = 1 << 6
)

// LineCoding is the serial line configuration exchanged by the
// SET_LINE_CODING and GET_LINE_CODING requests.
type LineCoding struct {
	DTERate    uint32 // Baud rate
	CharFormat uint8  // Stop bits: 0=1, 1=1.5, 2=2
	ParityType uint8  // 0=None, 1=Odd, 2=Even, 3=Mark, 4=Space
	DataBits   uint8  // 5, 6, 7, 8, or 16
}

// LineCodingSize is the wire size of LineCoding in bytes.
const LineCodingSize = 7

// Stop bit values for LineCoding.CharFormat.
const (
	StopBits1   = 0
	StopBits1_5 = 1
	StopBits2   = 2
)

// Parity values for LineCoding.ParityType.
const (
	ParityNone  = 0
	ParityOdd   = 1
	ParityEven  = 2
	ParityMark  = 3
	ParitySpace = 4
)

// DefaultLineCoding is 115200 8N1.
var DefaultLineCoding = LineCoding{
	DTERate:    115200,
	CharFormat: StopBits1,
	ParityType: ParityNone,
	DataBits:   8,
}

// MarshalTo writes the line coding to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], lc.DTERate)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding parses a line coding from data.
// Returns false if data is too short.
func ParseLineCoding(data []byte, out *LineCoding) bool {
	if len(data) < LineCodingSize {
		return false
	}
	out.DTERate = binary.LittleEndian.Uint32(data[0:4])
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return true
}

// Functional descriptor sizes.
const (
	HeaderDescriptorSize         = 5
	CallManagementDescriptorSize = 5
	ACMDescriptorSize            = 4
	UnionDescriptorSize          = 5 // With one subordinate interface

	// FunctionalDescriptorsSize is the combined size of the four
	// functional descriptors an ACM control interface carries.
	FunctionalDescriptorsSize = HeaderDescriptorSize + CallManagementDescriptorSize +
		ACMDescriptorSize + UnionDescriptorSize
)

// ACM capability bits (CDC 1.2 Table 4).
const (
	ACMCapCommFeature = 1 << 0
	ACMCapLineCoding  = 1 << 1 // Line coding and control line state
	ACMCapSendBreak   = 1 << 2
	ACMCapNetworkConn = 1 << 3
)

// functionalDescriptorsTo writes the Header, Call Management, ACM, and
// Union functional descriptors for a control/data interface pair.
func functionalDescriptorsTo(buf []byte, controlIface, dataIface uint8) int {
	if len(buf) < FunctionalDescriptorsSize {
		return 0
	}
	n := 0

	buf[n] = HeaderDescriptorSize
	buf[n+1] = DescriptorTypeCSInterface
	buf[n+2] = SubtypeHeader
	binary.LittleEndian.PutUint16(buf[n+3:], 0x0110) // CDC 1.10
	n += HeaderDescriptorSize

	buf[n] = CallManagementDescriptorSize
	buf[n+1] = DescriptorTypeCSInterface
	buf[n+2] = SubtypeCallManagement
	buf[n+3] = 0 // No call management
	buf[n+4] = dataIface
	n += CallManagementDescriptorSize

	buf[n] = ACMDescriptorSize
	buf[n+1] = DescriptorTypeCSInterface
	buf[n+2] = SubtypeACM
	buf[n+3] = ACMCapLineCoding | ACMCapSendBreak
	n += ACMDescriptorSize

	buf[n] = UnionDescriptorSize
	buf[n+1] = DescriptorTypeCSInterface
	buf[n+2] = SubtypeUnion
	buf[n+3] = controlIface
	buf[n+4] = dataIface
	n += UnionDescriptorSize

	return n
}
