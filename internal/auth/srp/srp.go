// Package srp implements the client side of the Secure Remote Password
// exchange used by the MitID code-app authenticator. The domain parameters
// (a fixed 2048-bit safe prime and generator 2) are protocol constants and
// are never negotiated.
//
// The hashing conventions are dictated by the MitID core client: most proof
// components hash the decimal string representation of the big integers,
// while the scrambling parameter hashes fixed-width big-endian encodings
// left-padded to the byte length of N. Both conventions must be kept exactly
// as-is for the server to accept the proof.
package srp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// ErrServerValueUnsafe is returned by Stage3 when the server public value B
// is zero or a multiple of N. Proceeding with such a value would leak the
// private exponent, so the exchange is aborted before key derivation.
var ErrServerValueUnsafe = errors.New("srp: server public value failed safety check")

// groupPrime is the 2048-bit safe prime N used by the MitID code-app
// authenticator, in decimal form.
const groupPrime = "4983313092069490398852700692508795473567251422586244806694940877242664573189903192937797446992068818099986958054998012331720869136296780936009508700487789962429161515853541556719593346959929531150706457338429058926505817847524855862259333438239756474464759974189984231409170758360686392625635632084395639143229889862041528635906990913087245817959460948345336333086784608823084788906689865566621015175424691535711520273786261989851360868669067101108956159530739641990220546209432953829448997561743719584980402874346226230488627145977608389858706391858138200618631385210304429902847702141587470513336905449351327122086464725143970313054358650488241167131544692349123381333204515637608656643608393788598011108539679620836313915590459891513992208387515629240292926570894321165482608544030173975452781623791805196546326996790536207359143527182077625412731080411108775183565594553871817639221414953634530830290393130518228654795859"

// privateExponentBits is the size of the client private exponent a.
const privateExponentBits = 256

// gcmNonceSize is the IV length used by the code-app sealed payload format.
const gcmNonceSize = 16

// Exchange holds the state of one SRP run. An Exchange must be used for a
// single authentication attempt only; the private exponent is generated in
// Stage1 and must never be reused.
type Exchange struct {
	n *big.Int
	g *big.Int

	a  *big.Int // private exponent, generated by Stage1
	pa *big.Int // public value A = g^a mod N
	pb *big.Int // server public value B

	key []byte // session key K = H(S)
	m1  string // client proof, hex
}

// NewExchange creates an Exchange with the fixed MitID group parameters.
func NewExchange() *Exchange {
	n, _ := new(big.Int).SetString(groupPrime, 10)
	return &Exchange{n: n, g: big.NewInt(2)}
}

// Stage1 generates the random private exponent and returns the public value
// A = g^a mod N as a lowercase hex string.
func (e *Exchange) Stage1() (string, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), privateExponentBits)
	a, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("srp: generate private exponent: %w", err)
	}
	e.a = a
	e.pa = new(big.Int).Exp(e.g, e.a, e.n)
	return e.pa.Text(16), nil
}

// Stage3 derives the shared session key from the server challenge and
// produces the client proof M1.
//
// salt is the server-issued SRP salt, serverB the server public value in hex,
// password the caller-derived hashed password and sessionID the authenticator
// session id, which only contributes to the proof. Returns M1 as hex.
func (e *Exchange) Stage3(salt, serverB, password, sessionID string) (string, error) {
	if e.a == nil {
		return "", errors.New("srp: Stage3 called before Stage1")
	}

	pb, ok := new(big.Int).SetString(serverB, 16)
	if !ok {
		return "", fmt.Errorf("srp: server public value is not valid hex")
	}
	if pb.Sign() == 0 || new(big.Int).Mod(pb, e.n).Sign() == 0 {
		return "", ErrServerValueUnsafe
	}
	e.pb = pb

	x := hashToInt([]byte(salt + password))
	s := e.sharedSecret(x)

	sum := sha256.Sum256([]byte(s.String()))
	e.key = sum[:]

	sessionHash := sha256.Sum256([]byte(sessionID))
	e.m1 = e.clientProof(hex.EncodeToString(sessionHash[:]), salt)
	return e.m1, nil
}

// Stage5 verifies the server proof M2, which demonstrates that the server
// derived the same session key. A false result means the server response is
// forged or corrupt and the flow must be aborted.
func (e *Exchange) Stage5(serverM2 string) bool {
	m1Int, ok := new(big.Int).SetString(e.m1, 16)
	if !ok {
		return false
	}
	sum := sha256.Sum256([]byte(e.pa.String() + m1Int.String() + hex.EncodeToString(e.key)))
	return hex.EncodeToString(sum[:]) == serverM2
}

// Seal encrypts plaintext with AES-256-GCM under the derived session key and
// returns IV || ciphertext || tag. Used once per exchange, to return the
// server-issued signature as proof of successful local verification.
func (e *Exchange) Seal(plaintext []byte) ([]byte, error) {
	if e.key == nil {
		return nil, errors.New("srp: Seal called before key derivation")
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("srp: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return nil, fmt.Errorf("srp: init gcm: %w", err)
	}
	iv := make([]byte, gcmNonceSize)
	if _, err = rand.Read(iv); err != nil {
		return nil, fmt.Errorf("srp: generate iv: %w", err)
	}
	return append(iv, gcm.Seal(nil, iv, plaintext, nil)...), nil
}

// SessionKeyHex returns the derived session key K as hex. Only valid after a
// successful Stage3; the broker driver keys its flow-value HMAC from it.
func (e *Exchange) SessionKeyHex() string {
	return hex.EncodeToString(e.key)
}

// FlowValueProof computes the HMAC-SHA256 binding proof over message, keyed
// by H("flowValues" || hex(K)). Returns the proof as hex.
func (e *Exchange) FlowValueProof(message []byte) string {
	keySum := sha256.Sum256([]byte("flowValues" + hex.EncodeToString(e.key)))
	mac := hmac.New(sha256.New, keySum[:])
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// sharedSecret computes S = (B - k*g^x)^(u*x + a) mod N.
func (e *Exchange) sharedSecret(x *big.Int) *big.Int {
	u := e.scramble()
	k := e.multiplier()

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, e.a)

	base := new(big.Int).Exp(e.g, x, e.n)
	base.Mul(base, k)
	base.Sub(e.pb, base)
	base.Mod(base, e.n)

	return base.Exp(base, exp, e.n)
}

// multiplier computes k = H(dec(N) || pad(g)) where g is left-padded to the
// byte length of N.
func (e *Exchange) multiplier() *big.Int {
	h := sha256.New()
	h.Write([]byte(e.n.String()))
	h.Write(e.padded(e.g))
	return new(big.Int).SetBytes(h.Sum(nil))
}

// scramble computes u = H(pad(A) || pad(B)) mod N with both values padded to
// the byte length of N.
func (e *Exchange) scramble() *big.Int {
	h := sha256.New()
	h.Write(e.padded(e.pa))
	h.Write(e.padded(e.pb))
	u := new(big.Int).SetBytes(h.Sum(nil))
	return u.Mod(u, e.n)
}

// clientProof computes M1 = H(dec(H(dec(N)) xor H(dec(g))) || I || salt ||
// dec(A) || dec(B) || hex(K)).
func (e *Exchange) clientProof(sessionHashHex, salt string) string {
	hn := hashToInt([]byte(e.n.String()))
	hg := hashToInt([]byte(e.g.String()))
	group := new(big.Int).Xor(hn, hg)

	sum := sha256.Sum256([]byte(group.String() + sessionHashHex + salt +
		e.pa.String() + e.pb.String() + hex.EncodeToString(e.key)))
	return hex.EncodeToString(sum[:])
}

// padded returns the big-endian encoding of v left-padded with zero bytes to
// the byte length of N. Dropping the padding is a classic interop bug; the
// server hashes fixed-width values here.
func (e *Exchange) padded(v *big.Int) []byte {
	size := (e.n.BitLen() + 7) / 8
	return v.FillBytes(make([]byte, size))
}

func hashToInt(data []byte) *big.Int {
	sum := sha256.Sum256(data)
	return new(big.Int).SetBytes(sum[:])
}
