package memory

import "strconv"

func encodeOffset(n int) []byte {
	return []byte(strconv.Itoa(n))
}

func decodeOffset(state []byte) int {
	if len(state) == 0 {
		return 0
	}
	n, err := strconv.Atoi(string(state))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
