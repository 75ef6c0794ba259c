// Package routes maps (method, path) pairs to the procedure to call and the
// template that renders its result.
//
// A Table is built once by New and is read-only afterwards. Matching is done
// by a chi router; Match reports its outcome as a tagged Match value rather
// than an error.
//
// Patterns use chi syntax ({name}, {name:regexp}) and additionally accept
// typed converters:
//
//	<name>, <string:name>  one path segment, passed as string
//	<int:name>             digits, passed as int64
//	<float:name>           digits with a fractional part, passed as float64
//	<path:name>            the remainder of the path, only as the last element
package routes
