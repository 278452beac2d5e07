package client

import "crypto/sha1"

// CalcPassword computes the mysql_native_password scramble:
// SHA1(password) XOR SHA1(seed + SHA1(SHA1(password))).
func CalcPassword(scramble, password []byte) []byte {
	if len(password) == 0 {
		return nil
	}

	crypt := sha1.New()
	crypt.Write(password)
	stage1 := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(stage1)
	hash := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(scramble)
	crypt.Write(hash)
	scramble = crypt.Sum(nil)

	for i := range scramble {
		scramble[i] ^= stage1[i]
	}
	return scramble
}
