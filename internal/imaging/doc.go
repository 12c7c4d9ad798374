// Package imaging takes detector frames and stores them in the night's
// data directory.
//
// Every frame is written as two files sharing a base name
// {tag}_{site}_{YYYYMMDD_HHMMSS}:
//
//   - .raw: the samples as little-endian uint16, row-major
//   - .yaml: a sidecar with pointing, exposure, binning, detector
//     temperature and sky-sensor readings
//
// Laser frames open the calibration shutter for the duration of the
// exposure and always close it again, even when the exposure fails.
package imaging
