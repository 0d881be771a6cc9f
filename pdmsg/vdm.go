package pdmsg

// VDMCommandType is the Structured VDM Command Type field.
type VDMCommandType uint8

// Structured VDM command types.
const (
	VDMCommandTypeREQ VDMCommandType = 0
	VDMCommandTypeACK VDMCommandType = 1
	VDMCommandTypeNAK VDMCommandType = 2
	VDMCommandTypeBusy VDMCommandType = 3
)

// VDMCommand is the Structured VDM Command field.
type VDMCommand uint8

// Structured VDM commands.
const (
	VDMCommandDiscoverIdentity VDMCommand = 1
	VDMCommandDiscoverSVIDs    VDMCommand = 2
	VDMCommandDiscoverModes    VDMCommand = 3
	VDMCommandEnterMode        VDMCommand = 4
	VDMCommandExitMode         VDMCommand = 5
	VDMCommandAttention        VDMCommand = 6
)

// VDMHeader is the Structured VDM Header, the first data object of a
// Vendor_Defined message.
type VDMHeader struct {
	SVID             uint16
	VDMType          uint8
	VDMVersionMajor  uint8
	VDMVersionMinor  uint8
	ObjectPosition   uint8
	CommandType      VDMCommandType
	Command          VDMCommand
}

// IDHeaderVDO is the ID Header VDO, present on an ACK response to Discover
// Identity.
type IDHeaderVDO struct {
	USBHost         bool
	USBDevice       bool
	SOPProductType  uint8
	ModalOperation  bool
	USBVendorID     uint16
}

// CertStatVDO is the Cert Stat VDO.
type CertStatVDO struct {
	USBIFXID uint32
}

// ProductVDO carries the USB product ID and device BCD version.
type ProductVDO struct {
	USBProductID uint16
	BCDDevice    uint16
}

// CableVDO1 is Passive/Active Cable VDO 1, present when SOPProductType is a
// passive (3) or active (4) cable.
type CableVDO1 struct {
	HWVersion         uint8
	FWVersion         uint8
	VDOVersion        uint8
	PlugType          uint8
	EPRCapable        bool
	CableLatency      uint8
	CableTermination  uint8
	MaxVBUSVoltage    uint8
	SBUSupported      bool
	SBUType           uint8
	VBUSCurrent       uint8
	VBUSThrough       bool
	SOPController     bool
	USBSpeed          uint8
}

// CableVDO2 is Active Cable VDO 2, present only when SOPProductType is an
// active cable (4).
type CableVDO2 struct {
	MaxOperatingTemp   uint8
	ShutdownTemp       uint8
	U3CLDPower         uint8
	U3ToU0Transition   bool
	PhysicalConnection bool
	ActiveElement      bool
	USB4Supported      bool
	USB2HubHops        uint8
	USB2Supported      bool
	USB32Supported     bool
	USBLanesSupported  bool
	OpticallyIsolated  bool
	USB4Asymmetric     bool
	USBGen             bool
}

// sopProductTypeCable and sopProductTypeActiveCable are the SOP Product
// Type values that carry the optional cable VDOs.
const (
	sopProductTypeCable       = 3
	sopProductTypeActiveCable = 4
)

// VDM is a parsed Vendor_Defined message. Fields beyond Header are only
// meaningful for an ACK (CommandType == VDMCommandTypeACK); a REQ/NAK/BUSY
// message carries only the header.
type VDM struct {
	Header  VDMHeader
	IDHeader IDHeaderVDO
	CertStat CertStatVDO
	Product  ProductVDO
	Cable1   CableVDO1
	Cable2   CableVDO2
}

// ParseVDM decodes a Vendor_Defined message's data objects into a VDM. pdos
// must hold at least DataObjectCount entries; entries beyond what the
// command type/product type populate are left zero.
func ParseVDM(pdos []uint32) VDM {
	var v VDM
	if len(pdos) == 0 {
		return v
	}
	h := pdos[0]
	v.Header = VDMHeader{
		SVID:            uint16(h >> 16),
		VDMType:         uint8((h >> 15) & 0x1),
		VDMVersionMajor: uint8((h >> 13) & 0x3),
		VDMVersionMinor: uint8((h >> 11) & 0x3),
		ObjectPosition:  uint8((h >> 8) & 0x7),
		CommandType:     VDMCommandType((h >> 6) & 0x3),
		Command:         VDMCommand(h & 0x1F),
	}
	if v.Header.CommandType != VDMCommandTypeACK {
		return v
	}
	if len(pdos) > 1 {
		id := pdos[1]
		v.IDHeader = IDHeaderVDO{
			USBHost:        id&(1<<31) != 0,
			USBDevice:      id&(1<<30) != 0,
			SOPProductType: uint8((id >> 27) & 0x7),
			ModalOperation: id&(1<<26) != 0,
			USBVendorID:    uint16(id & 0xFFFF),
		}
	}
	if len(pdos) > 2 {
		v.CertStat = CertStatVDO{USBIFXID: pdos[2]}
	}
	if len(pdos) > 3 {
		p := pdos[3]
		v.Product = ProductVDO{
			USBProductID: uint16(p >> 16),
			BCDDevice:    uint16(p & 0xFFFF),
		}
	}
	if v.IDHeader.SOPProductType != sopProductTypeCable && v.IDHeader.SOPProductType != sopProductTypeActiveCable {
		return v
	}
	if len(pdos) > 4 {
		c := pdos[4]
		v.Cable1 = CableVDO1{
			HWVersion:        uint8((c >> 28) & 0xF),
			FWVersion:        uint8((c >> 24) & 0xF),
			VDOVersion:       uint8((c >> 21) & 0x7),
			PlugType:         uint8((c >> 18) & 0x3),
			EPRCapable:       c&(1<<17) != 0,
			CableLatency:     uint8((c >> 13) & 0xF),
			CableTermination: uint8((c >> 11) & 0x3),
			MaxVBUSVoltage:   uint8((c >> 9) & 0x3),
			SBUSupported:     c&(1<<8) != 0,
			SBUType:          uint8((c >> 7) & 0x1),
			VBUSCurrent:      uint8((c >> 5) & 0x3),
			VBUSThrough:      c&(1<<4) != 0,
			SOPController:    c&(1<<3) != 0,
			USBSpeed:         uint8(c & 0x7),
		}
	}
	if v.IDHeader.SOPProductType != sopProductTypeActiveCable {
		return v
	}
	if len(pdos) > 5 {
		c := pdos[5]
		v.Cable2 = CableVDO2{
			MaxOperatingTemp:   uint8(c >> 24),
			ShutdownTemp:       uint8(c >> 16),
			U3CLDPower:         uint8((c >> 12) & 0x7),
			U3ToU0Transition:   c&(1<<11) != 0,
			PhysicalConnection: c&(1<<10) != 0,
			ActiveElement:      c&(1<<9) != 0,
			USB4Supported:      c&(1<<8) != 0,
			USB2HubHops:        uint8((c >> 6) & 0x3),
			USB2Supported:      c&(1<<5) != 0,
			USB32Supported:     c&(1<<4) != 0,
			USBLanesSupported:  c&(1<<3) != 0,
			OpticallyIsolated:  c&(1<<2) != 0,
			USB4Asymmetric:     c&(1<<1) != 0,
			USBGen:             c&1 != 0,
		}
	}
	return v
}

// BuildVDM serializes v into dst, returning the number of data objects
// written. dst must have capacity for at least 6 entries. The set of
// objects written mirrors ParseVDM: only an ACK carries the identity VDOs,
// and only cable product types carry the cable VDOs.
func BuildVDM(v VDM, dst []uint32) int {
	var h uint32
	h |= uint32(v.Header.SVID) << 16
	h |= uint32(v.Header.VDMType&0x1) << 15
	h |= uint32(v.Header.VDMVersionMajor&0x3) << 13
	h |= uint32(v.Header.VDMVersionMinor&0x3) << 11
	h |= uint32(v.Header.ObjectPosition&0x7) << 8
	h |= uint32(v.Header.CommandType&0x3) << 6
	h |= uint32(v.Header.Command & 0x1F)
	dst[0] = h

	if v.Header.CommandType != VDMCommandTypeACK {
		return 1
	}

	var id uint32
	if v.IDHeader.USBHost {
		id |= 1 << 31
	}
	if v.IDHeader.USBDevice {
		id |= 1 << 30
	}
	id |= uint32(v.IDHeader.SOPProductType&0x7) << 27
	if v.IDHeader.ModalOperation {
		id |= 1 << 26
	}
	id |= uint32(v.IDHeader.USBVendorID)
	dst[1] = id

	dst[2] = v.CertStat.USBIFXID

	dst[3] = uint32(v.Product.USBProductID)<<16 | uint32(v.Product.BCDDevice)

	if v.IDHeader.SOPProductType != sopProductTypeCable && v.IDHeader.SOPProductType != sopProductTypeActiveCable {
		return 4
	}

	var c1 uint32
	c1 |= uint32(v.Cable1.HWVersion&0xF) << 28
	c1 |= uint32(v.Cable1.FWVersion&0xF) << 24
	c1 |= uint32(v.Cable1.VDOVersion&0x7) << 21
	c1 |= uint32(v.Cable1.PlugType&0x3) << 18
	if v.Cable1.EPRCapable {
		c1 |= 1 << 17
	}
	c1 |= uint32(v.Cable1.CableLatency&0xF) << 13
	c1 |= uint32(v.Cable1.CableTermination&0x3) << 11
	c1 |= uint32(v.Cable1.MaxVBUSVoltage&0x3) << 9
	if v.Cable1.SBUSupported {
		c1 |= 1 << 8
	}
	c1 |= uint32(v.Cable1.SBUType&0x1) << 7
	c1 |= uint32(v.Cable1.VBUSCurrent&0x3) << 5
	if v.Cable1.VBUSThrough {
		c1 |= 1 << 4
	}
	if v.Cable1.SOPController {
		c1 |= 1 << 3
	}
	c1 |= uint32(v.Cable1.USBSpeed & 0x7)
	dst[4] = c1

	if v.IDHeader.SOPProductType != sopProductTypeActiveCable {
		return 5
	}

	var c2 uint32
	c2 |= uint32(v.Cable2.MaxOperatingTemp) << 24
	c2 |= uint32(v.Cable2.ShutdownTemp) << 16
	c2 |= uint32(v.Cable2.U3CLDPower&0x7) << 12
	if v.Cable2.U3ToU0Transition {
		c2 |= 1 << 11
	}
	if v.Cable2.PhysicalConnection {
		c2 |= 1 << 10
	}
	if v.Cable2.ActiveElement {
		c2 |= 1 << 9
	}
	if v.Cable2.USB4Supported {
		c2 |= 1 << 8
	}
	c2 |= uint32(v.Cable2.USB2HubHops&0x3) << 6
	if v.Cable2.USB2Supported {
		c2 |= 1 << 5
	}
	if v.Cable2.USB32Supported {
		c2 |= 1 << 4
	}
	if v.Cable2.USBLanesSupported {
		c2 |= 1 << 3
	}
	if v.Cable2.OpticallyIsolated {
		c2 |= 1 << 2
	}
	if v.Cable2.USB4Asymmetric {
		c2 |= 1 << 1
	}
	if v.Cable2.USBGen {
		c2 |= 1
	}
	dst[5] = c2
	return 6
}
