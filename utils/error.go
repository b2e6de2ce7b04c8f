package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

var ErrorConflict = errors.New("conflict")
