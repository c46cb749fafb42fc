package hl7

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResult = "MSH|^~\\&|TEAMW|TEAMW|SURE|Zurich|20260110120000||ORU^R01|42|P|2.8\r" +
	"PID|1|SUF-abc123|SUF-abc123||Anonym^SUF-abc123^^^||19900101|M\n" +
	"ORC|RE|12000001\r\n" +
	"OBR|1|12000001||TPPA^Syphilis TPPA\r" +
	"OBX|1|ST|TPPA^TPPA||negativ|||N\r" +
	"NTE|1||first line\\.br\\second \\F\\ line"

func TestParse(t *testing.T) {
	msg, err := Parse(sampleResult)
	require.NoError(t, err)
	require.Len(t, msg.Segments, 6)

	msh := msg.Segment("MSH")
	require.NotNil(t, msh)
	assert.Equal(t, "|", msh.Field(1))
	assert.Equal(t, "^~\\&", msh.Field(2))
	assert.Equal(t, "TEAMW", msh.Field(3))
	assert.Equal(t, "ORU", msh.Component(9, 1))
	assert.Equal(t, "R01", msh.Component(9, 2))

	pid := msg.Segment("PID")
	require.NotNil(t, pid)
	assert.Equal(t, "SUF-abc123", pid.Component(3, 1))
	assert.Equal(t, "Anonym", pid.Component(5, 1))
	assert.Equal(t, "19900101", pid.Field(7))

	assert.Equal(t, "12000001", msg.Segment("ORC").Field(2))
	obx := msg.Segment("OBX")
	assert.Equal(t, "ST", obx.Field(2))
	assert.Equal(t, "negativ", obx.Field(5))
	assert.Equal(t, "N", obx.Field(8))
}

func TestParseRejectsInvalidMessages(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)

	_, err = Parse("\r\n\n")
	assert.Error(t, err)

	_, err = Parse("PID|1|x")
	assert.Error(t, err)
}

func TestOutOfRangeAccessReturnsEmpty(t *testing.T) {
	msg, err := Parse(sampleResult)
	require.NoError(t, err)

	obr := msg.Segment("OBR")
	assert.Equal(t, "", obr.Field(0))
	assert.Equal(t, "", obr.Field(40))
	assert.Equal(t, "", obr.Component(4, 7))
	assert.Equal(t, "", obr.Component(40, 1))
	assert.Nil(t, msg.Segment("SPM"))
	assert.Empty(t, msg.All("SPM"))
}

func TestRepetitions(t *testing.T) {
	msg, err := Parse("MSH|^~\\&|A\rOBX|1|CE|CODE||a^b~c^d")
	require.NoError(t, err)

	f := msg.Segment("OBX").Fields[4]
	assert.Equal(t, []string{"a", "b"}, f.Components)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, f.Repeats)
}

func TestAllKeepsOrder(t *testing.T) {
	msg, err := Parse("MSH|^~\\&|A\rOBX|1|ST|X||1\rNTE|1||n\rOBX|2|ST|Y||2")
	require.NoError(t, err)

	obx := msg.All("OBX")
	require.Len(t, obx, 2)
	assert.Equal(t, "X", obx[0].Field(3))
	assert.Equal(t, "Y", obx[1].Field(3))
}

func TestStringRoundTrip(t *testing.T) {
	raw := "MSH|^~\\&|SURE|Zurich|TEAMW|TEAMW|20260110120000||OML^O21\rPID|1|SUF-abc123\rORC|NW|12000001|||"
	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, msg.String())
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `a\F\b\S\c\R\d\T\e\E\f`, Escape(`a|b^c~d&e\f`))
	assert.Equal(t, `line one\.br\line two`, Escape("line one\nline two"))
	assert.Equal(t, "plain", Escape("plain"))
}

func TestUnescape(t *testing.T) {
	assert.Equal(t, "first line\nsecond | line", Unescape(`first line\.br\second \F\ line`))

	for _, s := range []string{`a|b^c~d&e\f`, "x\ny", `\F`, `back\slash`} {
		assert.Equal(t, s, Unescape(Escape(s)), s)
	}
}

func TestBuilder(t *testing.T) {
	var b Builder
	b.Add("MSH", "^~\\&", "SURE", Escape("Zurich|Nord")).
		Add("PID", "1", "SUF-abc123").
		Add("NTE", "1", "", Escape("hello\nworld"))

	assert.Equal(t, 3, b.Len())
	out := b.String()
	assert.Equal(t, "MSH|^~\\&|SURE|Zurich\\F\\Nord\rPID|1|SUF-abc123\rNTE|1||hello\\.br\\world", out)

	msg, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "Zurich|Nord", Unescape(msg.Segment("MSH").Field(4)))
	assert.Equal(t, "hello\nworld", Unescape(msg.Segment("NTE").Field(3)))
}
