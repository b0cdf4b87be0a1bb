package hid

// Main item flag bits (Input/Output/Feature).
const (
	MainData     uint32 = 0
	MainConst    uint32 = 1 << 0
	MainArray    uint32 = 0
	MainVar      uint32 = 1 << 1
	MainAbs      uint32 = 0
	MainRel      uint32 = 1 << 2
	MainNoWrap   uint32 = 0
	MainWrap     uint32 = 1 << 3
	MainNoNull   uint32 = 0
	MainNull     uint32 = 1 << 6
	MainVolatile uint32 = 1 << 7
)

// Usage pages used by the keyboard firmware.
const (
	UsagePageGenericDesktop uint16 = 0x01
	UsagePageKeyboard       uint16 = 0x07
	UsagePageLEDs           uint16 = 0x08
	UsagePageConsumer       uint16 = 0x0C
	UsagePageAppleVendor    uint16 = 0xFF
	UsagePageVendor         uint16 = 0xFF00
)

// Usages on the Generic Desktop page.
const (
	UsageKeyboard uint32 = 0x06
)

// Collection kinds.
const (
	CollectionPhysical    uint8 = 0x00
	CollectionApplication uint8 = 0x01
	CollectionLogical     uint8 = 0x02
)

// Main item tags.
const (
	tagInput         = 0x8
	tagOutput        = 0x9
	tagFeature       = 0xB
	tagCollection    = 0xA
	tagEndCollection = 0xC
)

// Global item tags.
const (
	tagUsagePage   = 0x0
	tagLogicalMin  = 0x1
	tagLogicalMax  = 0x2
	tagPhysicalMin = 0x3
	tagPhysicalMax = 0x4
	tagReportSize  = 0x7
	tagReportID    = 0x8
	tagReportCount = 0x9
)

// Local item tags.
const (
	tagUsage    = 0x0
	tagUsageMin = 0x1
	tagUsageMax = 0x2
)

type UsagePage struct{ Page uint16 }

func (u UsagePage) encode(e *encoder) error {
	return e.short(tagUsagePage, ItemTypeGlobal, dataU32(uint32(u.Page)))
}

type Usage struct{ Usage uint32 }

func (u Usage) encode(e *encoder) error {
	return e.short(tagUsage, ItemTypeLocal, dataU32(u.Usage))
}

type UsageMinimum struct{ Min uint32 }

func (u UsageMinimum) encode(e *encoder) error {
	return e.short(tagUsageMin, ItemTypeLocal, dataU32(u.Min))
}

type UsageMaximum struct{ Max uint32 }

func (u UsageMaximum) encode(e *encoder) error {
	return e.short(tagUsageMax, ItemTypeLocal, dataU32(u.Max))
}

type LogicalMinimum struct{ Min int32 }

func (l LogicalMinimum) encode(e *encoder) error {
	return e.short(tagLogicalMin, ItemTypeGlobal, dataI32(l.Min))
}

// LogicalMaximum is signed on the wire; 255 therefore takes two bytes.
type LogicalMaximum struct{ Max int32 }

func (l LogicalMaximum) encode(e *encoder) error {
	return e.short(tagLogicalMax, ItemTypeGlobal, dataI32(l.Max))
}

type PhysicalMinimum struct{ Min int32 }

func (p PhysicalMinimum) encode(e *encoder) error {
	return e.short(tagPhysicalMin, ItemTypeGlobal, dataI32(p.Min))
}

type PhysicalMaximum struct{ Max int32 }

func (p PhysicalMaximum) encode(e *encoder) error {
	return e.short(tagPhysicalMax, ItemTypeGlobal, dataI32(p.Max))
}

type ReportSize struct{ Bits uint32 }

func (r ReportSize) encode(e *encoder) error {
	return e.short(tagReportSize, ItemTypeGlobal, dataU32(r.Bits))
}

type ReportCount struct{ Count uint32 }

func (r ReportCount) encode(e *encoder) error {
	return e.short(tagReportCount, ItemTypeGlobal, dataU32(r.Count))
}

type ReportID struct{ ID uint8 }

func (r ReportID) encode(e *encoder) error {
	return e.short(tagReportID, ItemTypeGlobal, Data{r.ID})
}

type Input struct{ Flags uint32 }

func (i Input) encode(e *encoder) error {
	return e.short(tagInput, ItemTypeMain, dataU32(i.Flags))
}

type Output struct{ Flags uint32 }

func (o Output) encode(e *encoder) error {
	return e.short(tagOutput, ItemTypeMain, dataU32(o.Flags))
}

type Feature struct{ Flags uint32 }

func (f Feature) encode(e *encoder) error {
	return e.short(tagFeature, ItemTypeMain, dataU32(f.Flags))
}

// Collection wraps Items in Collection(Kind) ... End Collection.
type Collection struct {
	Kind  uint8
	Items []Item
}

func (c Collection) encode(e *encoder) error {
	if err := e.short(tagCollection, ItemTypeMain, Data{c.Kind}); err != nil {
		return err
	}
	if err := e.items(c.Items); err != nil {
		return err
	}
	return e.short(tagEndCollection, ItemTypeMain, nil)
}
