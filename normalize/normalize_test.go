package normalize_test

import (
	"testing"

	"github.com/jmtrans/freightboard/normalize"
)

func TestRequestStatus(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"priority", "priority"},
		{"PRIORITY", "priority"},
		{"Приоритет", "priority"},
		{"პრიორი", "priority"},
		{"current", "current"},
		{"Текущая", "current"},
		{"მიმდინარე", "current"},
		{"closed", "closed"},
		{"Закрыта", "closed"},
		{"დახურული", "closed"},
		{"done", "done"},
		{"Отменена", "done"},
		{"cancelled", "done"},
		{"active", "active"},
		{"Активная", "active"},
		{"აქტიური", "active"},
		{"", "active"},
		{"   ", "active"},
		{"garbage value", "active"},
		{"  Closed  ", "closed"},
	}
	for _, c := range cases {
		if got := normalize.RequestStatus(c.in); got != c.want {
			t.Errorf("RequestStatus(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestVehicleNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ab123cd", "AB123CD"},
		{"  ab 123  cd  ", "AB 123 CD"},
		{"AB\t123\ncd", "AB 123 CD"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := normalize.VehicleNumber(c.in); got != c.want {
			t.Errorf("VehicleNumber(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestVehicleNumberIdempotent(t *testing.T) {
	inputs := []string{"ab 123 cd", "  AB123CD ", "x  y\tz"}
	for _, in := range inputs {
		once := normalize.VehicleNumber(in)
		twice := normalize.VehicleNumber(once)
		if once != twice {
			t.Errorf("VehicleNumber not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}
