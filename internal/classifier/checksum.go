package classifier

// upsCheckDigit: letters map to (c-'A'+2)%10, odd positions count once,
// even positions twice.
func upsCheckDigit(body string) int {
	sum := 0
	for i, r := range body {
		v := 0
		if isDigit(r) {
			v = int(r - '0')
		} else {
			v = (int(r-'A') + 2) % 10
		}
		if i%2 == 1 {
			v *= 2
		}
		sum += v
	}
	return (10 - sum%10) % 10
}

// mod10CheckDigit weights digits 3,1,3,... starting from the rightmost one.
func mod10CheckDigit(digits string) int {
	sum := 0
	weight := 3
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	return (10 - sum%10) % 10
}

// s10CheckDigit is the UPU S10 check over the 8-digit serial.
func s10CheckDigit(serial string) int {
	weights := [8]int{8, 6, 4, 2, 3, 5, 9, 7}
	sum := 0
	for i := 0; i < 8; i++ {
		sum += int(serial[i]-'0') * weights[i]
	}
	c := 11 - sum%11
	switch c {
	case 10:
		return 0
	case 11:
		return 5
	}
	return c
}

// fedExCheckDigit weights digits 1,3,7 repeating from the right.
func fedExCheckDigit(digits string) int {
	weights := [3]int{1, 3, 7}
	sum := 0
	for i, j := len(digits)-1, 0; i >= 0; i, j = i-1, j+1 {
		sum += int(digits[i]-'0') * weights[j%3]
	}
	return sum % 11 % 10
}
