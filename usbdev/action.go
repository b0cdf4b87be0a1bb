package usbdev

// Action is what the control endpoint does in response to a setup packet:
// stall, or send Data split into Packets (the status stage for requests
// without a data stage is a single empty packet).
type Action struct {
	Stall   bool
	Data    []byte
	Packets [][]byte
}

func newAction(data []byte, wLength, maxPacket uint16) Action {
	if len(data) > int(wLength) {
		data = data[:wLength]
	}
	return Action{Data: data, Packets: Packetize(data, wLength, maxPacket)}
}

// Packetize splits data into max-packet chunks. When data is shorter than
// the host asked for and ends on a packet boundary, a zero-length packet
// terminates the transfer.
func Packetize(data []byte, wLength, maxPacket uint16) [][]byte {
	if maxPacket == 0 {
		maxPacket = 64
	}
	if len(data) > int(wLength) {
		data = data[:wLength]
	}
	var pkts [][]byte
	for off := 0; off < len(data); off += int(maxPacket) {
		end := min(off+int(maxPacket), len(data))
		pkts = append(pkts, data[off:end])
	}
	if len(data) < int(wLength) && len(data)%int(maxPacket) == 0 {
		pkts = append(pkts, []byte{})
	}
	if len(pkts) == 0 {
		pkts = append(pkts, []byte{})
	}
	return pkts
}
