package amount

import (
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
)

func TestFromEther(t *testing.T) {
	tests := []struct {
		in      string
		wantWei string
		wantErr bool
	}{
		{in: "1.0", wantWei: "1000000000000000000"},
		{in: "0.1", wantWei: "100000000000000000"},
		{in: "1.1", wantWei: "1100000000000000000"},
		{in: "0.000000000000000001", wantWei: "1"},
		{in: "2.5000000000000000000", wantWei: "2500000000000000000"},
		{in: "0", wantWei: "0"},
		{in: "0.0000000000000000001", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := FromEther(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("FromEther(%q) want error, got %s", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("FromEther(%q): %v", tt.in, err)
		}
		if got.String() != tt.wantWei {
			t.Fatalf("FromEther(%q) = %s, want %s", tt.in, got, tt.wantWei)
		}
	}
}

func TestEtherRoundTrip(t *testing.T) {
	a := MustEther("1.1")
	if a.Ether() != "1.1" {
		t.Fatalf("Ether() = %s", a.Ether())
	}
	if FromUint64(0).Ether() != "0" {
		t.Fatalf("zero Ether() = %s", FromUint64(0).Ether())
	}
}

func TestAdd_ExactAndOverflow(t *testing.T) {
	sum, err := MustEther("1.0").Add(MustEther("0.1"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !sum.Equal(MustEther("1.1")) {
		t.Fatalf("1.0 + 0.1 = %s wei", sum)
	}

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	top, err := FromBig(max)
	if err != nil {
		t.Fatalf("FromBig(max): %v", err)
	}
	if _, err := top.Add(FromUint64(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("want ErrOverflow, got %v", err)
	}
}

func TestFromBig_Rejects(t *testing.T) {
	if _, err := FromBig(big.NewInt(-1)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("negative: %v", err)
	}
	if _, err := FromBig(new(big.Int).Lsh(big.NewInt(1), 256)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("2^256: %v", err)
	}
	if _, err := FromBig(nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("nil: %v", err)
	}
}

func TestJSON_IsWeiString(t *testing.T) {
	b, err := json.Marshal(struct {
		A Amount `json:"a"`
	}{A: MustEther("1")})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"a":"1000000000000000000"}` {
		t.Fatalf("json = %s", b)
	}

	var out struct {
		A Amount `json:"a"`
	}
	if err := json.Unmarshal([]byte(`{"a":"42"}`), &out); err != nil {
		t.Fatal(err)
	}
	if out.A.String() != "42" {
		t.Fatalf("got %s", out.A)
	}
	if err := json.Unmarshal([]byte(`{"a":1.5}`), &out); err == nil {
		t.Fatal("number literal must be rejected")
	}
}

func TestScanValue(t *testing.T) {
	var a Amount
	if err := a.Scan([]byte("123456789012345678901234567890")); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	v, _ := a.Value()
	if v.(string) != "123456789012345678901234567890" {
		t.Fatalf("Value = %v", v)
	}
	if err := a.Scan(3.5); err == nil || !strings.Contains(err.Error(), "cannot scan") {
		t.Fatalf("float scan: %v", err)
	}
}
