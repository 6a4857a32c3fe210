package filter

import (
	"encoding/json"
	"errors"
	"testing"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestLeafComparitors(t *testing.T) {
	props := Props{"OWNER": "Peterson", "ACRES": 12.5, "ZIP": "55104", "EMPTY": nil, "CODE": "NaN", "LIMIT": "Infinity"}
	tests := []struct {
		expr string
		want bool
	}{
		{`{"name":"OWNER","value":"Peterson","comparitor":"eq"}`, true},
		{`{"name":"OWNER","value":"Peterson"}`, true},
		{`{"name":"OWNER","value":"peterson","comparitor":"eq"}`, false},
		{`{"name":"ACRES","value":10,"comparitor":"ge"}`, true},
		{`{"name":"ACRES","value":"10","comparitor":"ge"}`, true},
		{`{"name":"ACRES","value":"12.5","comparitor":"eq"}`, true},
		{`{"name":"ACRES","value":12.5,"comparitor":"lt"}`, false},
		{`{"name":"ACRES","value":20,"comparitor":"le"}`, true},
		{`{"name":"ACRES","value":12.5,"comparitor":"gt"}`, false},
		{`{"name":"OWNER","value":5,"comparitor":"gt"}`, false},
		{`{"name":"ZIP","value":55104,"comparitor":"eq"}`, true},
		{`{"name":"OWNER","value":"ters","comparitor":"like"}`, true},
		{`{"name":"OWNER","value":"TERS","comparitor":"like"}`, false},
		{`{"name":"OWNER","value":"TERS","comparitor":"ilike"}`, true},
		{`{"name":"OWNER","value":"Pet*","comparitor":"like"}`, true},
		{`{"name":"OWNER","value":"*son","comparitor":"ilike"}`, true},
		{`{"name":"OWNER","value":"*pet","comparitor":"ilike"}`, false},
		{`{"name":"OWNER","value":"Pet%son","comparitor":"like"}`, true},
		{`{"name":"EMPTY","value":"","comparitor":"eq"}`, true},
		{`{"name":"MISSING","value":"","comparitor":"eq"}`, true},
		{`{"name":"OWNER","value":"x.y","comparitor":"like"}`, false},
		{`{"name":"CODE","value":"NaN","comparitor":"eq"}`, true},
		{`{"name":"CODE","value":"NaN","comparitor":"ne"}`, false},
		{`{"name":"LIMIT","value":"inf","comparitor":"eq"}`, false},
		{`{"name":"LIMIT","value":"Infinity","comparitor":"eq"}`, true},
		{`{"name":"LIMIT","value":1,"comparitor":"lt"}`, false},
	}
	for _, tc := range tests {
		if got := Match(raw(tc.expr), props); got != tc.want {
			t.Fatalf("%s => %v want %v", tc.expr, got, tc.want)
		}
	}
}

func TestNumericCoercionIdempotent(t *testing.T) {
	for _, v := range []float64{3, 5, 7} {
		props := Props{"n": v}
		for _, op := range []string{"eq", "ge", "gt", "le", "lt"} {
			asNum := Match(raw(`{"name":"n","value":5,"comparitor":"`+op+`"}`), props)
			asStr := Match(raw(`{"name":"n","value":"5","comparitor":"`+op+`"}`), props)
			if asNum != asStr {
				t.Fatalf("op %s on %v: number=%v string=%v", op, v, asNum, asStr)
			}
		}
	}
}

func TestTrees(t *testing.T) {
	open := Props{"status": "open", "rank": 3.0, "kind": "a"}
	arch := Props{"status": "archived", "rank": 9.0}
	tests := []struct {
		name  string
		expr  string
		props Props
		want  bool
	}{
		{"in hit", `["in","status","open","closed"]`, open, true},
		{"in miss", `["in","status","open","closed"]`, arch, false},
		{"in NaN text", `["in","status","NaN"]`, Props{"status": "NaN"}, true},
		{"in empty sentinel", `["in","kind","","b"]`, arch, true},
		{"in get literal", `["in",["get","status"],["literal",["open"]]]`, open, true},
		{"legacy eq", `["==","status","open"]`, open, true},
		{"range", `[">=",["get","rank"],5]`, arch, true},
		{"range miss", `[">=",["get","rank"],5]`, open, false},
		{"and", `["and",["==","status","open"],["<",["get","rank"],4]]`, open, true},
		{"and short", `["and",["==","status","closed"],["<",["get","rank"],4]]`, open, false},
		{"or", `["or",["==","status","closed"],{"name":"rank","value":3}]`, open, true},
		{"any coalesce", `["any",["==",["coalesce",["get","kind"],""],"b"],["==",["coalesce",["get","kind"],""],""]]`, arch, true},
		{"nested leafs", `["and",{"name":"status","value":"open"},["or",{"name":"rank","value":1,"comparitor":"le"},{"name":"kind","value":"A","comparitor":"ilike"}]]`, open, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(raw(tc.expr), tc.props); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestMalformedFailsClosed(t *testing.T) {
	bad := []string{
		``, `null`, `42`, `"x"`, `[]`, `[1,2]`, `["xor","a"]`, `["and"]`,
		`["==","a"]`, `{"value":1}`, `{"name":"a","comparitor":"approx"}`,
		`["like",["get","a"],["get","b"]]`, `{"name":`,
		`["==",["unknown","a"],1]`,
	}
	for _, b := range bad {
		if _, err := Parse(raw(b)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Parse(%q) err=%v want ErrMalformed", b, err)
		}
		if Match(raw(b), Props{"a": 1}) {
			t.Fatalf("malformed %q matched", b)
		}
	}
}

func TestDepthLimit(t *testing.T) {
	expr := `["==","a",1]`
	for i := 0; i < maxDepth+2; i++ {
		expr = `["and",` + expr + `]`
	}
	if _, err := Parse(raw(expr)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected depth error, got %v", err)
	}
}

func TestAllAndReferences(t *testing.T) {
	fs := []json.RawMessage{
		raw(`{"name":"status","value":"open"}`),
		raw(`[">=",["get","rank"],2]`),
	}
	n := All(fs)
	if !n.Eval(Props{"status": "open", "rank": 3.0}) {
		t.Fatalf("expected match")
	}
	if n.Eval(Props{"status": "open", "rank": 1.0}) {
		t.Fatalf("expected AND to reject")
	}
	if !All(nil).Eval(Props{}) {
		t.Fatalf("empty list must pass everything")
	}
	if !References(fs[1], "rank") || References(fs[1], "status") {
		t.Fatalf("References wrong")
	}
	if Canonical(raw(`{"value":"open", "name":"status"}`)) != Canonical(fs[0]) {
		t.Fatalf("canonical forms differ")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(raw(`{"name":"a","value":1,"comparitor":"ge"}`)); err != nil {
		t.Fatalf("valid leaf rejected: %v", err)
	}
	if err := Validate(raw(`["in","a","x"]`)); err != nil {
		t.Fatalf("valid tree rejected: %v", err)
	}
	if err := Validate(raw(`{"name":"a","comparitor":"approx"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected schema failure, got %v", err)
	}
	if err := Validate(raw(`["==","a"]`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected parse failure, got %v", err)
	}
}
