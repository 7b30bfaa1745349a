package tracer

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Var_BuiltinConversions(t *testing.T) {
	cases := []struct {
		value     interface{}
		wantType  VariableType
		wantValue string
	}{
		{"Max", VariableTypeString, "Max"},
		{42, VariableTypeInteger, "42"},
		{int64(-7), VariableTypeInteger, "-7"},
		{uint8(255), VariableTypeInteger, "255"},
		{3.5, VariableTypeFloat, "3.5"},
		{float32(0.25), VariableTypeFloat, "0.25"},
		{true, VariableTypeBoolean, "true"},
		{errors.New("boom"), VariableTypeString, "boom"},
		{net.IPv4(127, 0, 0, 1), VariableTypeString, "127.0.0.1"},
	}

	for _, c := range cases {
		v := Var("x", c.value)
		assert.Equal(t, "x", v.Name)
		assert.Equal(t, c.wantType, v.Type, "value %v", c.value)
		assert.Equal(t, c.wantValue, v.Value, "value %v", c.value)
	}
}

func Test_Var_FallbackFormatting(t *testing.T) {
	type point struct{ X, Y int }

	v := Var("p", point{1, 2})
	assert.Equal(t, VariableTypeString, v.Type)
	assert.Equal(t, "{1 2}", v.Value)
}

func Test_RegisterConverter(t *testing.T) {
	type person struct{ First, Last string }

	RegisterConverter(person{}, func(value interface{}) (VariableType, string) {
		p := value.(person)
		return VariableTypeString, p.Last + ", " + p.First
	})

	v := Var("who", person{First: "Max", Last: "Mustermann"})
	assert.Equal(t, "Mustermann, Max", v.Value)
}

func Test_VariableTypeNames(t *testing.T) {
	assert.Equal(t, "string", VariableTypeString.String())
	assert.Equal(t, "integer", VariableTypeInteger.String())
	assert.Equal(t, "float", VariableTypeFloat.String())
	assert.Equal(t, "boolean", VariableTypeBoolean.String())

	assert.Equal(t, VariableTypeInteger, variableTypeByName("integer"))
	assert.Equal(t, VariableTypeString, variableTypeByName("no-such-type"))
}
