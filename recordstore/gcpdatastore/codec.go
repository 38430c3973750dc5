// Copyright 2019 The RecordStore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gcpdatastore

// Encoding and decoding between supported recordstore types and Datastore protos.

import (
	"fmt"
	"reflect"
	"time"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"google.golang.org/genproto/googleapis/type/latlng"
	"google.golang.org/protobuf/types/known/structpb"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
	"recordstore.dev/recordstore/driver"
)

// encodeRecord encodes a driver.Record into a Datastore entity.
// The key field and the revision field are not stored as properties: the key
// lives in the entity key, and the revision is the entity version.
func (c *collection) encodeRecord(rec driver.Record) (*pb.Entity, error) {
	var e encoder
	if err := rec.Encode(&e); err != nil {
		return nil, err
	}
	props := e.pv.GetEntityValue().Properties
	if c.keyField != "" {
		delete(props, c.keyField)
	}
	delete(props, c.opts.RevisionField)
	return &pb.Entity{Properties: props}, nil
}

// encodeValue encodes a Go value as a Datastore Value.
func encodeValue(x interface{}) (*pb.Value, error) {
	var e encoder
	if err := driver.Encode(reflect.ValueOf(x), &e); err != nil {
		return nil, err
	}
	return e.pv, nil
}

// encoder implements driver.Encoder. Its job is to encode a single Datastore value.
// The conversion from a Go value is deterministic: a given Go value always
// produces the same Datastore value.
type encoder struct {
	pv *pb.Value
}

var nullValue = &pb.Value{ValueType: &pb.Value_NullValue{NullValue: structpb.NullValue_NULL_VALUE}}

func (e *encoder) EncodeNil()          { e.pv = nullValue }
func (e *encoder) EncodeBool(x bool)   { e.pv = &pb.Value{ValueType: &pb.Value_BooleanValue{BooleanValue: x}} }
func (e *encoder) EncodeInt(x int64)   { e.pv = &pb.Value{ValueType: &pb.Value_IntegerValue{IntegerValue: x}} }
func (e *encoder) EncodeUint(x uint64) { e.pv = &pb.Value{ValueType: &pb.Value_IntegerValue{IntegerValue: int64(x)}} }
func (e *encoder) EncodeFloat(x float64) {
	e.pv = &pb.Value{ValueType: &pb.Value_DoubleValue{DoubleValue: x}}
}

// Strings and blobs longer than the indexed-value limit are stored with
// indexing excluded; Datastore rejects them otherwise.
func (e *encoder) EncodeString(x string) {
	e.pv = &pb.Value{
		ValueType:          &pb.Value_StringValue{StringValue: x},
		ExcludeFromIndexes: len(x) > maxIndexedValueBytes,
	}
}

func (e *encoder) EncodeBytes(x []byte) {
	e.pv = &pb.Value{
		ValueType:          &pb.Value_BlobValue{BlobValue: x},
		ExcludeFromIndexes: len(x) > maxIndexedValueBytes,
	}
}

func (e *encoder) ListIndex(int) { panic("impossible") }
func (e *encoder) MapKey(string) { panic("impossible") }

func (e *encoder) EncodeList(n int) driver.Encoder {
	s := make([]*pb.Value, n)
	e.pv = &pb.Value{ValueType: &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{Values: s}}}
	return &listEncoder{s: s}
}

func (e *encoder) EncodeMap(n int) driver.Encoder {
	m := make(map[string]*pb.Value, n)
	e.pv = &pb.Value{ValueType: &pb.Value_EntityValue{EntityValue: &pb.Entity{Properties: m}}}
	return &mapEncoder{m: m}
}

var (
	typeOfGoTime         = reflect.TypeOf(time.Time{})
	typeOfProtoTimestamp = reflect.TypeOf((*tspb.Timestamp)(nil))
	typeOfLatLng         = reflect.TypeOf((*latlng.LatLng)(nil))
	typeOfKey            = reflect.TypeOf((*pb.Key)(nil))
)

// Encode time.Time, *tspb.Timestamp, *latlng.LatLng and *pb.Key specially,
// as their native Datastore value types.
func (e *encoder) EncodeSpecial(v reflect.Value) (bool, error) {
	switch v.Type() {
	case typeOfGoTime:
		e.pv = &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: tspb.New(v.Interface().(time.Time))}}
		return true, nil
	case typeOfProtoTimestamp:
		if v.IsNil() {
			e.pv = nullValue
		} else {
			e.pv = &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: v.Interface().(*tspb.Timestamp)}}
		}
		return true, nil
	case typeOfLatLng:
		if v.IsNil() {
			e.pv = nullValue
		} else {
			e.pv = &pb.Value{ValueType: &pb.Value_GeoPointValue{GeoPointValue: v.Interface().(*latlng.LatLng)}}
		}
		return true, nil
	case typeOfKey:
		if v.IsNil() {
			e.pv = nullValue
		} else {
			e.pv = &pb.Value{ValueType: &pb.Value_KeyValue{KeyValue: v.Interface().(*pb.Key)}}
		}
		return true, nil
	default:
		return false, nil
	}
}

type listEncoder struct {
	s []*pb.Value
	encoder
}

func (e *listEncoder) ListIndex(i int) { e.s[i] = e.pv }

type mapEncoder struct {
	m map[string]*pb.Value
	encoder
}

func (e *mapEncoder) MapKey(k string) { e.m[k] = e.pv }

////////////////////////////////////////////////////////////////

// decodeEntity decodes a Datastore entity result into a driver.Record.
// The key field is populated from the entity key and the revision field from
// the entity version. If fieldPaths is non-empty it acts as a field mask:
// only properties on one of the paths are populated.
func (c *collection) decodeEntity(er *pb.EntityResult, rec driver.Record, fieldPaths [][]string) error {
	props := map[string]*pb.Value{}
	for k, v := range er.Entity.Properties {
		props[k] = v
	}
	if c.keyField != "" && er.Entity.Key != nil {
		kv, err := encodeValue(keyID(er.Entity.Key))
		if err != nil {
			return err
		}
		props[c.keyField] = kv
	}
	if len(fieldPaths) > 0 {
		for k := range props {
			if !maskIncludes(fieldPaths, k) {
				delete(props, k)
			}
		}
	}
	ev := &pb.Value{ValueType: &pb.Value_EntityValue{EntityValue: &pb.Entity{Properties: props}}}
	if err := rec.Decode(decoder{ev}); err != nil {
		return err
	}
	if rec.HasField(c.opts.RevisionField) && er.Version != 0 {
		return rec.SetField(c.opts.RevisionField, er.Version)
	}
	return nil
}

// maskIncludes reports whether the property named prop is on one of the
// field paths. The mask has property granularity: a path selects the whole
// top-level property it starts with.
func maskIncludes(fieldPaths [][]string, prop string) bool {
	for _, fp := range fieldPaths {
		if fp[0] == prop {
			return true
		}
	}
	return false
}

type decoder struct {
	pv *pb.Value
}

func (d decoder) String() string { // for debugging
	return fmt.Sprint(d.pv)
}

func (d decoder) AsNull() bool {
	_, ok := d.pv.ValueType.(*pb.Value_NullValue)
	return ok
}

func (d decoder) AsBool() (bool, bool) {
	if b, ok := d.pv.ValueType.(*pb.Value_BooleanValue); ok {
		return b.BooleanValue, true
	}
	return false, false
}

func (d decoder) AsString() (string, bool) {
	if s, ok := d.pv.ValueType.(*pb.Value_StringValue); ok {
		return s.StringValue, true
	}
	return "", false
}

func (d decoder) AsInt() (int64, bool) {
	if i, ok := d.pv.ValueType.(*pb.Value_IntegerValue); ok {
		return i.IntegerValue, true
	}
	return 0, false
}

func (d decoder) AsUint() (uint64, bool) {
	if i, ok := d.pv.ValueType.(*pb.Value_IntegerValue); ok {
		return uint64(i.IntegerValue), true
	}
	return 0, false
}

func (d decoder) AsFloat() (float64, bool) {
	if f, ok := d.pv.ValueType.(*pb.Value_DoubleValue); ok {
		return f.DoubleValue, true
	}
	return 0, false
}

func (d decoder) AsBytes() ([]byte, bool) {
	if bs, ok := d.pv.ValueType.(*pb.Value_BlobValue); ok {
		return bs.BlobValue, true
	}
	return nil, false
}

// AsInterface decodes the value in d into the most appropriate Go type.
func (d decoder) AsInterface() (interface{}, error) {
	return decodeValue(d.pv)
}

func decodeValue(v *pb.Value) (interface{}, error) {
	switch v := v.ValueType.(type) {
	case *pb.Value_NullValue:
		return nil, nil
	case *pb.Value_BooleanValue:
		return v.BooleanValue, nil
	case *pb.Value_IntegerValue:
		return v.IntegerValue, nil
	case *pb.Value_DoubleValue:
		return v.DoubleValue, nil
	case *pb.Value_StringValue:
		return v.StringValue, nil
	case *pb.Value_BlobValue:
		return v.BlobValue, nil
	case *pb.Value_TimestampValue:
		// Return TimestampValue as time.Time.
		return v.TimestampValue.AsTime(), nil
	case *pb.Value_KeyValue:
		return v.KeyValue, nil
	case *pb.Value_GeoPointValue:
		// Return GeoPointValue as *latlng.LatLng.
		return v.GeoPointValue, nil
	case *pb.Value_ArrayValue:
		s := make([]interface{}, len(v.ArrayValue.Values))
		for i, pv := range v.ArrayValue.Values {
			e, err := decodeValue(pv)
			if err != nil {
				return nil, err
			}
			s[i] = e
		}
		return s, nil
	case *pb.Value_EntityValue:
		m := make(map[string]interface{}, len(v.EntityValue.Properties))
		for k, pv := range v.EntityValue.Properties {
			e, err := decodeValue(pv)
			if err != nil {
				return nil, err
			}
			m[k] = e
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown datastore value type %T", v)
}

func (d decoder) ListLen() (int, bool) {
	a := d.pv.GetArrayValue()
	if a == nil {
		return 0, false
	}
	return len(a.Values), true
}

func (d decoder) DecodeList(f func(int, driver.Decoder) bool) {
	for i, e := range d.pv.GetArrayValue().Values {
		if !f(i, decoder{e}) {
			return
		}
	}
}

func (d decoder) MapLen() (int, bool) {
	e := d.pv.GetEntityValue()
	if e == nil {
		return 0, false
	}
	return len(e.Properties), true
}

func (d decoder) DecodeMap(f func(string, driver.Decoder, bool) bool) {
	for k, v := range d.pv.GetEntityValue().Properties {
		if !f(k, decoder{v}, true) {
			return
		}
	}
}

func (d decoder) AsSpecial(v reflect.Value) (bool, interface{}, error) {
	switch v.Type() {
	case typeOfGoTime:
		if ts, ok := d.pv.ValueType.(*pb.Value_TimestampValue); ok {
			if ts.TimestampValue == nil {
				return true, time.Time{}, nil
			}
			return true, ts.TimestampValue.AsTime(), nil
		}
		return true, nil, fmt.Errorf("expected TimestampValue for time.Time, got %+v", d.pv.ValueType)
	case typeOfProtoTimestamp:
		if ts, ok := d.pv.ValueType.(*pb.Value_TimestampValue); ok {
			return true, ts.TimestampValue, nil
		}
		return true, nil, fmt.Errorf("expected TimestampValue for *tspb.Timestamp, got %+v", d.pv.ValueType)
	case typeOfLatLng:
		if ll, ok := d.pv.ValueType.(*pb.Value_GeoPointValue); ok {
			return true, ll.GeoPointValue, nil
		}
		return true, nil, fmt.Errorf("expected GeoPointValue for *latlng.LatLng, got %+v", d.pv.ValueType)
	case typeOfKey:
		if k, ok := d.pv.ValueType.(*pb.Value_KeyValue); ok {
			return true, k.KeyValue, nil
		}
		return true, nil, fmt.Errorf("expected KeyValue for *pb.Key, got %+v", d.pv.ValueType)
	default:
		return false, nil, nil
	}
}
