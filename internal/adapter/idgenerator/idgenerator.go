// Package idgenerator contains the default [domain.IDGenerator]
// implementation.
package idgenerator

import (
	"crypto/rand"
	"encoding/base64"
	"io"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	objectIDType = reflect.TypeFor[bson.ObjectID]()
	uuidType     = reflect.TypeFor[uuid.UUID]()
)

// IDGenerator implements [domain.IDGenerator] for [bson.ObjectID],
// [uuid.UUID] and string ids.
type IDGenerator struct {
	reader io.Reader
	length int
}

// NewIDGenerator returns a new implementation of [domain.IDGenerator].
func NewIDGenerator(opts ...domain.IDGeneratorOption) domain.IDGenerator {
	options := domain.IDGeneratorOptions{Reader: rand.Reader, StringLength: 16}
	for _, opt := range opts {
		opt(&options)
	}
	return &IDGenerator{reader: options.Reader, length: options.StringLength}
}

// GenerateID implements [domain.IDGenerator]. Named string types receive a
// random alphanumeric string.
func (i *IDGenerator) GenerateID(t reflect.Type) (any, bool, error) {
	switch {
	case t == objectIDType:
		return bson.NewObjectID(), true, nil
	case t == uuidType:
		id, err := uuid.NewRandomFromReader(i.reader)
		if err != nil {
			return nil, true, err
		}
		return id, true, nil
	case t.Kind() == reflect.String:
		s, err := i.randomString(i.length)
		if err != nil {
			return nil, true, err
		}
		return reflect.ValueOf(s).Convert(t).Interface(), true, nil
	}
	return nil, false, nil
}

func (i *IDGenerator) randomString(l int) (string, error) {
	buf := make([]byte, max(8, l*2))
	if _, err := io.ReadFull(i.reader, buf); err != nil {
		return "", err
	}
	enc := base64.StdEncoding.EncodeToString(buf)
	return strings.NewReplacer("+", "", "/", "").Replace(enc)[:l], nil
}
