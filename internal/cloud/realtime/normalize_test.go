package realtime

import (
	"errors"
	"testing"
)

func TestNormalize_WrappedPayload(t *testing.T) {
	fields, err := Normalize([]byte(`{"params":{"soc":87,"wattsOutSum":240}}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("Normalize() returned %d fields, want 2", len(fields))
	}
	if fields["soc"].(float64) != 87 {
		t.Errorf("Normalize()[soc] = %v, want 87", fields["soc"])
	}
}

func TestNormalize_BarePayload(t *testing.T) {
	fields, err := Normalize([]byte(`{"soc":87,"wattsOutSum":240}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if fields["wattsOutSum"].(float64) != 240 {
		t.Errorf("Normalize()[wattsOutSum] = %v, want 240", fields["wattsOutSum"])
	}
}

func TestNormalize_NestedObjectsFlattened(t *testing.T) {
	fields, err := Normalize([]byte(`{"params":{"bms":{"soc":87,"temp":31}}}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if fields["bms.soc"].(float64) != 87 {
		t.Errorf("Normalize()[bms.soc] = %v, want 87", fields["bms.soc"])
	}
	if fields["bms.temp"].(float64) != 31 {
		t.Errorf("Normalize()[bms.temp] = %v, want 31", fields["bms.temp"])
	}
}

func TestNormalize_ValuesKeepTypes(t *testing.T) {
	fields, err := Normalize([]byte(`{"params":{"on":true,"label":"main","count":3}}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if _, ok := fields["on"].(bool); !ok {
		t.Errorf("Normalize()[on] = %T, want bool", fields["on"])
	}
	if _, ok := fields["label"].(string); !ok {
		t.Errorf("Normalize()[label] = %T, want string", fields["label"])
	}
}

func TestNormalize_NonObjectParamsTreatedAsBare(t *testing.T) {
	// A scalar under "params" means the payload is not wrapped; the key
	// is just an ordinary field.
	fields, err := Normalize([]byte(`{"params":"literal","soc":50}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if fields["params"] != "literal" {
		t.Errorf("Normalize()[params] = %v, want literal", fields["params"])
	}
	if fields["soc"].(float64) != 50 {
		t.Errorf("Normalize()[soc] = %v, want 50", fields["soc"])
	}
}

func TestNormalize_InvalidJSON(t *testing.T) {
	_, err := Normalize([]byte("not json"))
	if !errors.Is(err, ErrPayload) {
		t.Errorf("Normalize() error = %v, want ErrPayload", err)
	}
}

func TestNormalize_NonObjectRoot(t *testing.T) {
	_, err := Normalize([]byte(`[1,2,3]`))
	if !errors.Is(err, ErrPayload) {
		t.Errorf("Normalize() error = %v, want ErrPayload", err)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantOnline bool
		wantOK     bool
	}{
		{"online", `{"params":{"status":1}}`, true, true},
		{"offline", `{"params":{"status":0}}`, false, true},
		{"bare", `{"status":1}`, true, true},
		{"missing", `{"params":{"soc":87}}`, false, false},
		{"non-numeric", `{"params":{"status":"up"}}`, false, false},
		{"garbage", `nope`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			online, ok := parseStatus([]byte(tt.payload))
			if ok != tt.wantOK {
				t.Fatalf("parseStatus() ok = %v, want %v", ok, tt.wantOK)
			}
			if online != tt.wantOnline {
				t.Errorf("parseStatus() online = %v, want %v", online, tt.wantOnline)
			}
		})
	}
}
