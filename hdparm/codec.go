// Package hdparm manages drive power settings: the hdparm -S timeout
// encoding, the /etc/hdparm.conf per-device configuration blocks, and live
// power state queries.
package hdparm

// MinutesToCode converts a spindown timeout in minutes to the hdparm -S
// encoding:
//
//	0       = disabled
//	1-240   = multiples of 5 seconds (up to 20 minutes)
//	241-251 = 30-minute increments (241 = 30min ... 251 = 330min); inputs in
//	          22-330 round up to the next 30-minute boundary
//	252     = exactly 21 minutes
//	253     = vendor-defined, 254 = reserved, 255 = 21 minutes 15 seconds
//
// Inputs above 330 minutes clamp to 251.
func MinutesToCode(minutes int) int {
	switch {
	case minutes <= 0:
		return 0
	case minutes <= 20:
		// code = seconds / 5
		return minutes * 12
	case minutes == 21:
		return 252
	case minutes <= 330:
		units := (minutes + 29) / 30
		return 240 + units
	default:
		return 251
	}
}

// CodeToMinutes inverts MinutesToCode. Codes 1-11 encode less than a minute
// and are reported as 1 so a nonzero timeout never reads back as disabled.
// Code 253 (vendor-defined) and 254 (reserved) decode to 0.
func CodeToMinutes(code int) int {
	switch {
	case code <= 0:
		return 0
	case code <= 240:
		minutes := code / 12
		if minutes == 0 {
			return 1
		}
		return minutes
	case code <= 251:
		return (code - 240) * 30
	case code == 252 || code == 255:
		return 21
	default:
		return 0
	}
}
