// Package portlog formats captured packet buffers as human-readable text,
// the way the engine's logging task renders its trace.
package portlog

import (
	"context"
	"fmt"
	"io"

	"github.com/tinypd/pdsink/bufpool"
	"github.com/tinypd/pdsink/pdmsg"
)

// Logger drains packet buffers and writes a textual dump of each to w.
type Logger struct {
	w   io.Writer
	sep string
}

// New creates a Logger writing to w. lineSep is appended after every line;
// common values are "\n", "\r\n".
func New(w io.Writer, lineSep string) *Logger {
	return &Logger{w: w, sep: lineSep}
}

// Run drains bufCh until ctx is done, returning each buffer to pool once
// logged.
func (l *Logger) Run(ctx context.Context, pool *bufpool.Pool, bufCh <-chan *bufpool.Buffer) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-bufCh:
			l.Dump(b)
			pool.Put(b)
		}
	}
}

func (l *Logger) line(format string, args ...any) {
	fmt.Fprintf(l.w, format, args...)
	fmt.Fprint(l.w, l.sep)
}

// Dump writes a textual description of b.
func (l *Logger) Dump(b *bufpool.Buffer) {
	l.line("")
	l.line("Target: %s", b.Target)
	switch b.Direction {
	case bufpool.DirectionReceivedAcked:
		l.line("  Acknowledged")
	case bufpool.DirectionSent:
		l.line("  Sent, but no ACK")
	case bufpool.DirectionSentAcked:
		l.line("  Sent")
	}

	if b.Kind != bufpool.KindData || b.Length < 2 {
		return
	}

	m := pdmsg.FromBytes(b.Payload[:b.Length])

	l.line("  Header Fields%s", extendedSuffix(m.IsExtended()))
	l.line("    DO: %d, ID: %d, PPR/CR: %d, Rev: %d, PDR: %d, Type: %#02x",
		m.DataObjectCount(), m.ID(), m.PowerRole(), m.Revision(), m.DataRole(), m.Type())

	if !m.IsData() {
		l.dumpControl(m.Type())
		return
	}
	l.dumpData(m)
}

func extendedSuffix(extended bool) string {
	if extended {
		return " (extended)"
	}
	return ""
}

func (l *Logger) dumpControl(t pdmsg.Type) {
	l.line("  Control:")
	switch t {
	case pdmsg.TypeSoftReset:
		l.line("    Soft Reset")
	case pdmsg.TypeGoodCRC:
		l.line("    Good CRC")
	case pdmsg.TypeReject:
		l.line("    Rejected")
	case pdmsg.TypeAccept:
		l.line("    Accepted")
	case pdmsg.TypePSReady:
		l.line("    Power supply ready")
	case pdmsg.TypeGetSourceCap:
		l.line("    Get Source Capabilities")
	case pdmsg.TypeGetSinkCap:
		l.line("    Get Sink Capabilities")
	case pdmsg.TypeWait:
		l.line("    Wait")
	case pdmsg.TypePing:
		l.line("    Ping")
	}
}

func (l *Logger) dumpData(m pdmsg.Message) {
	l.line("  Data:")
	n := m.DataObjectCount()
	switch m.Type() {
	case pdmsg.TypeVendorMessage:
		for i := uint8(0); i < n; i++ {
			l.line("      Data #%d: %#08x", i, m.Data[i])
		}
		l.dumpVDM(pdmsg.ParseVDM(m.Data[:n]))

	case pdmsg.TypeRequest:
		l.line("    Request")
		rdo := pdmsg.RequestDO(m.Data[0])
		l.line("      Object #%d", rdo.SelectedObjectPosition())
		l.line("      Current     %dmA", rdo.FixedOperatingCurrent())
		l.line("      Current Max %dmA", rdo.FixedMaxOperatingCurrent())

	case pdmsg.TypeSourceCap:
		l.line("    Source Capabilities:")
		for i := uint8(0); i < n; i++ {
			l.dumpSourcePDO(i, pdmsg.PDO(m.Data[i]))
		}
	}
}

func (l *Logger) dumpSourcePDO(index uint8, p pdmsg.PDO) {
	switch p.Type() {
	case pdmsg.PDOTypeFixedSupply:
		fs := pdmsg.FixedSupplyPDO(p)
		l.line("    #%d: Fixed Supply PDO", index)
		l.line("        %dmV, %dmA", fs.Voltage(), fs.MaxCurrent())
	case pdmsg.PDOTypeBattery:
		l.line("    #%d: Battery Supply PDO (not supported)", index)
	case pdmsg.PDOTypeVariableSupply:
		l.line("    #%d: Variable Supply PDO (not supported)", index)
	case pdmsg.PDOTypePPS:
		pps := pdmsg.PPSPDO(p)
		limited := ""
		if pps.IsPowerLimited() {
			limited = " (power limited)"
		}
		l.line("    #%d: Programmable Supply PDO", index)
		l.line("        %d-%dmV, max %dmA%s", pps.MinVoltage(), pps.MaxVoltage(), pps.MaxCurrent(), limited)
	default:
		l.line("    #%d: unknown PDO type", index)
	}
}

func (l *Logger) dumpVDM(v pdmsg.VDM) {
	l.line("    VDM SVID: %#04x, Type: %d, Ver: %d.%d, Pos: %d, CmdType: %d, Cmd: %d",
		v.Header.SVID, v.Header.VDMType, v.Header.VDMVersionMajor, v.Header.VDMVersionMinor,
		v.Header.ObjectPosition, v.Header.CommandType, v.Header.Command)
	if v.Header.CommandType != pdmsg.VDMCommandTypeACK {
		return
	}
	l.line("    ID Header: Host=%v Device=%v ProductType=%d Modal=%v VID=%#04x",
		v.IDHeader.USBHost, v.IDHeader.USBDevice, v.IDHeader.SOPProductType, v.IDHeader.ModalOperation, v.IDHeader.USBVendorID)
	l.line("    Cert Stat XID: %d", v.CertStat.USBIFXID)
	l.line("    Product: PID=%#04x BCD=%#04x", v.Product.USBProductID, v.Product.BCDDevice)
}
