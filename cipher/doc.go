// Package cipher protects field-level data at rest with AES-CBC, PKCS#7
// padding and a fresh random IV per encryption. FieldCodec layers a tagged
// storage format on top so stored values can be told apart from plaintext.
package cipher
