package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotificationPathParse(t *testing.T) {

	assert := assert.New(t)

	portalId := "abc123def456"
	topic := "N/abc123def456/system/0/Dc/Battery/Soc"
	r := notificationPathExtractor(portalId)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "Dc/Battery/Soc", "path extract")
}

func TestNotificationPathParseFail(t *testing.T) {

	assert := assert.New(t)

	portalId := "abc123def456"
	topic := "N/otherportal/system/0/Dc/Battery/Soc"
	r := notificationPathExtractor(portalId)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestParseFloatValue(t *testing.T) {

	assert := assert.New(t)

	value, err := ParseFloatValue([]byte(`{"value": 55.2}`))
	assert.NoError(err)
	assert.Equal(55.2, value)

	_, err = ParseFloatValue([]byte(`{"value": null}`))
	assert.Error(err, "null value means the path is invalid")

	_, err = ParseFloatValue([]byte(`not json`))
	assert.Error(err)
}

func TestParseIntValue(t *testing.T) {

	assert := assert.New(t)

	value, err := ParseIntValue([]byte(`{"value": 240}`))
	assert.NoError(err)
	assert.Equal(240, value)

	// integer paths may arrive float-encoded
	value, err = ParseIntValue([]byte(`{"value": 240.0}`))
	assert.NoError(err)
	assert.Equal(240, value)

	_, err = ParseIntValue([]byte(`{}`))
	assert.Error(err)
}

func TestEncodeWriteValue(t *testing.T) {

	assert := assert.New(t)

	payload, err := EncodeWriteValue(1)
	assert.NoError(err)
	assert.Equal(`{"value":1}`, payload)
}
