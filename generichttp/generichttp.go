// Package generichttp provides small JSON response helpers for exposing
// getter functions as read-only HTTP endpoints.
package generichttp

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// all of the following types are followed with a capital T for homogeneity
// and to avoid clashes with builtins.

// BoolT is a struct with a single Bool field.
type BoolT struct {
	Bool bool `json:"bool"`
}

// IntT is a struct with a single Int field.
type IntT struct {
	Int int `json:"int"`
}

// ByteT is a struct with a single Int field.
type ByteT struct {
	Int byte `json:"int"` // we won't distinguish between bytes and ints for users
}

// Uint64T is a struct with a single Uint field.
type Uint64T struct {
	Uint uint64 `json:"uint"`
}

func encode(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		fstr := fmt.Sprintf("error encoding %+v to JSON, %q", obj, err)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

// GetBool calls a bool-getting function and returns the response as
// json {"bool": value}.
func GetBool(fcn func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encode(w, BoolT{Bool: fcn()})
	}
}

// GetInt calls an int-getting function and returns the response as
// json {"int": value}.
func GetInt(fcn func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encode(w, IntT{Int: fcn()})
	}
}

// GetByte calls a byte-getting function and returns the response as
// json {"int": value}.
func GetByte(fcn func() byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encode(w, ByteT{Int: fcn()})
	}
}

// GetUint64 calls a uint64-getting function and returns the response as
// json {"uint": value}.
func GetUint64(fcn func() uint64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encode(w, Uint64T{Uint: fcn()})
	}
}
