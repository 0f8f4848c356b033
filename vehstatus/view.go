package vehstatus

import (
	"fmt"
	"strings"

	"github.com/jmtrans/freightboard/normalize"
	"github.com/jmtrans/freightboard/request"
)

// Driver is the engine's typed view of one driver entry inside a request
// document. The document itself stays an opaque map everywhere else; only
// reconciliation needs structured fields.
type Driver struct {
	StateNumber   string
	VehicleNumber string
	Plate         string
	CarNumber     string
	Number        string
	TSNumber      string
	Date          string
}

// Vehicle resolves the driver's plate: the first present field wins, in
// probe order, and its normalized form is the result. A present value that
// normalizes blank does not fall through to later fields; the driver simply
// carries no resolvable vehicle.
func (d Driver) Vehicle() string {
	for _, v := range []string{d.StateNumber, d.VehicleNumber, d.Plate, d.CarNumber, d.Number, d.TSNumber} {
		if v != "" {
			return normalize.VehicleNumber(v)
		}
	}
	return ""
}

// LoadingDate is the typed view of one entry in a request's loading_dates
// list.
type LoadingDate struct {
	Date        string
	LoadingDate string
	Day         string
}

// Value returns the first present date field, truncated to date-only form.
func (l LoadingDate) Value() string {
	for _, v := range []string{l.Date, l.LoadingDate, l.Day} {
		if d := truncDate(v); d != "" {
			return d
		}
	}
	return ""
}

// decodeDrivers extracts the typed driver view from an opaque document.
// Values are string-coerced the way clients actually send them (numbers for
// numeric plates included).
func decodeDrivers(doc request.Document) []Driver {
	list, ok := doc["drivers"].([]any)
	if !ok {
		return nil
	}
	out := make([]Driver, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		d := Driver{
			StateNumber:   field(m, "stateNumber"),
			VehicleNumber: field(m, "vehicleNumber"),
			Plate:         field(m, "plate"),
			CarNumber:     field(m, "carNumber"),
			Number:        field(m, "number"),
			TSNumber:      field(m, "tsNumber"),
			Date:          field(m, "date"),
		}
		out = append(out, d)
	}
	return out
}

func decodeLoadingDates(doc request.Document) []LoadingDate {
	list, ok := doc["loading_dates"].([]any)
	if !ok {
		return nil
	}
	out := make([]LoadingDate, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, LoadingDate{
			Date:        field(m, "date"),
			LoadingDate: field(m, "loading_date"),
			Day:         field(m, "day"),
		})
	}
	return out
}

// expectedVehicles derives the expected set for a request: normalized plate
// to load date (nil when no date is known). The per-driver date wins; the
// first entry of loading_dates is the fallback.
func expectedVehicles(doc request.Document) map[string]*string {
	var fallback *string
	for _, ld := range decodeLoadingDates(doc) {
		if v := ld.Value(); v != "" {
			fallback = &v
			break
		}
	}

	expected := make(map[string]*string)
	for _, d := range decodeDrivers(doc) {
		v := d.Vehicle()
		if v == "" {
			continue
		}
		if own := truncDate(d.Date); own != "" {
			expected[v] = &own
		} else {
			expected[v] = fallback
		}
	}
	return expected
}

// truncDate trims a raw date string to its 10-character date-only prefix.
// Counted in runes: client dates can carry localized text and a byte cut
// could split a multi-byte character.
func truncDate(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > 10 {
		s = string(r[:10])
	}
	return s
}

func field(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
