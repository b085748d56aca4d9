package mapper

import (
	"reflect"
	"strings"
)

// fieldTag is a parsed struct tag.
type fieldTag struct {
	name      string
	skip      bool
	inline    bool
	id        bool
	version   bool
	shardKey  bool
	createdAt bool
	updatedAt bool
	omitEmpty bool
	omitZero  bool
}

// parseTag reads the tag named key, falling back to the bson tag so that
// types already annotated for the driver map the same way.
func parseTag(tag reflect.StructTag, key string) fieldTag {
	raw, ok := tag.Lookup(key)
	if !ok {
		if raw, ok = tag.Lookup("bson"); !ok {
			return fieldTag{}
		}
	}
	if raw == "-" {
		return fieldTag{skip: true}
	}
	var ft fieldTag
	name, flags, _ := strings.Cut(raw, ",")
	ft.name = name
	for flag := range strings.SplitSeq(flags, ",") {
		switch strings.ToLower(flag) {
		case "id":
			ft.id = true
		case "version":
			ft.version = true
		case "shardkey":
			ft.shardKey = true
		case "createdat":
			ft.createdAt = true
		case "updatedat":
			ft.updatedAt = true
		case "omitempty":
			ft.omitEmpty = true
		case "omitzero":
			ft.omitZero = true
		case "inline":
			ft.inline = true
		}
	}
	return ft
}
