package codec

import "reflect"

var mapStringAnyType = reflect.TypeOf(map[string]any(nil))
