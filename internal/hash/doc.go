// Package hash provides the checksum used for data integrity.
//
// Every page image and every write-ahead log record carries a CRC32-Castagnoli
// (CRC32C) checksum. Go's crc32 package uses hardware instructions for the
// Castagnoli polynomial where available (SSE4.2, ARM CRC).
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// For framed data split over several slices:
//
//	checksum := hash.CRC32CParts(header, body)
package hash
