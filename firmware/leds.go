package firmware

import "github.com/Alia5/kbdfw/device/keyboard"

// SubscribeLEDs returns a channel receiving every effective LED change.
// Changes are dropped for subscribers that fall behind by more than buf.
func (f *Firmware) SubscribeLEDs(buf int) (<-chan keyboard.LEDState, func()) {
	f.ledMu.Lock()
	defer f.ledMu.Unlock()
	id := f.ledNext
	f.ledNext++
	ch := make(chan keyboard.LEDState, max(buf, 1))
	f.ledSubs[id] = ch
	var once bool
	return ch, func() {
		f.ledMu.Lock()
		defer f.ledMu.Unlock()
		if once {
			return
		}
		once = true
		delete(f.ledSubs, id)
		close(ch)
	}
}

// fanoutLEDs runs inside the critical section.
func (f *Firmware) fanoutLEDs(st keyboard.LEDState) {
	f.ledMu.Lock()
	defer f.ledMu.Unlock()
	for _, ch := range f.ledSubs {
		select {
		case ch <- st:
		default:
		}
	}
}
