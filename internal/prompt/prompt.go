// Package prompt provides the interactive prompts used when creating a new
// wallet from the command line.
package prompt

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pocketsuite/pocketwallet/wallet"
	"golang.org/x/crypto/ssh/terminal"
)

// mnemonicEntropyBits is the entropy size used for generated wallet
// mnemonics, yielding a 24 word sentence.
const mnemonicEntropyBits = 256

// ProvidePrivPassphrase is used to prompt for the private passphrase of an
// existing wallet, such as before decrypting it.
func ProvidePrivPassphrase() ([]byte, error) {
	prompt := "Enter the private passphrase of your wallet: "
	for {
		fmt.Print(prompt)
		pass, err := terminal.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		pass = bytes.TrimSpace(pass)
		if len(pass) == 0 {
			continue
		}

		return pass, nil
	}
}

// promptList prompts the user with the given prefix, list of valid responses,
// and default list entry to use.  The function will repeat the prompt to the
// user until they enter a valid response.
func promptList(reader *bufio.Reader, prefix string, validResponses []string, defaultEntry string) (string, error) {
	// Setup the prompt according to the parameters.
	validStrings := strings.Join(validResponses, "/")
	var prompt string
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	} else {
		prompt = fmt.Sprintf("%s (%s): ", prefix, validStrings)
	}

	// Prompt the user until one of the valid responses is given.
	for {
		fmt.Print(prompt)
		reply, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// promptListBool prompts the user for a boolean (yes/no) with the given prefix.
// The function will repeat the prompt to the user until they enter a valid
// reponse.
func promptListBool(reader *bufio.Reader, prefix string, defaultEntry string) (bool, error) {
	// Setup the valid responses.
	valid := []string{"n", "no", "y", "yes"}
	response, err := promptList(reader, prefix, valid, defaultEntry)
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}

// promptPass prompts the user for a passphrase with the given prefix.  The
// function will ask the user to confirm the passphrase and will repeat the
// prompts until they enter a matching response.
func promptPass(reader *bufio.Reader, prefix string, confirm bool) ([]byte, error) {
	// Prompt the user until they enter a passphrase.
	prompt := fmt.Sprintf("%s: ", prefix)
	for {
		fmt.Print(prompt)
		pass, err := terminal.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		pass = bytes.TrimSpace(pass)
		if len(pass) == 0 {
			continue
		}

		if !confirm {
			return pass, nil
		}

		fmt.Print("Confirm passphrase: ")
		confirm, err := terminal.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		confirm = bytes.TrimSpace(confirm)
		if !bytes.Equal(pass, confirm) {
			fmt.Println("The entered passphrases do not match")
			continue
		}

		return pass, nil
	}
}

// PrivatePass prompts the user for the private passphrase of a new wallet.
// An empty passphrase is allowed and leaves the wallet unencrypted; the user
// is asked to confirm that choice.  All prompts are repeated until the user
// enters a valid response.
func PrivatePass(reader *bufio.Reader) ([]byte, error) {
	for {
		pass, err := promptPassAllowEmpty(reader, "Enter the private "+
			"passphrase for your new wallet")
		if err != nil {
			return nil, err
		}
		if len(pass) > 0 {
			return pass, nil
		}

		useNone, err := promptListBool(reader, "No passphrase entered.  "+
			"Leave the wallet unencrypted?", "no")
		if err != nil {
			return nil, err
		}
		if useNone {
			return nil, nil
		}
	}
}

// promptPassAllowEmpty prompts for a passphrase with confirmation, accepting
// an empty reply.
func promptPassAllowEmpty(reader *bufio.Reader, prefix string) ([]byte, error) {
	for {
		fmt.Printf("%s: ", prefix)
		pass, err := terminal.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		pass = bytes.TrimSpace(pass)
		if len(pass) == 0 {
			return nil, nil
		}

		fmt.Print("Confirm passphrase: ")
		confirm, err := terminal.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		confirm = bytes.TrimSpace(confirm)
		if !bytes.Equal(pass, confirm) {
			fmt.Println("The entered passphrases do not match")
			continue
		}
		return pass, nil
	}
}

// Mnemonic prompts the user whether they want to use an existing wallet
// mnemonic.  When the user answers no, a new mnemonic is generated and
// displayed, and the user must confirm they stored it.  When the user
// answers yes, the entered sentence is validated before it is accepted.
func Mnemonic(reader *bufio.Reader) ([]string, error) {
	// Ascertain the wallet mnemonic.
	useUserMnemonic, err := promptListBool(reader, "Do you have an "+
		"existing wallet mnemonic you want to use?", "no")
	if err != nil {
		return nil, err
	}
	if !useUserMnemonic {
		mnemonic, err := wallet.GenerateMnemonic(mnemonicEntropyBits)
		if err != nil {
			return nil, err
		}

		fmt.Println("Your wallet generation mnemonic is:")
		fmt.Printf("\n%s\n\n", strings.Join(mnemonic, " "))
		fmt.Println("IMPORTANT: Keep the mnemonic in a safe place as you\n" +
			"will NOT be able to restore your wallet without it.")
		fmt.Println("Please keep in mind that anyone who has access\n" +
			"to the mnemonic can also restore your wallet thereby\n" +
			"giving them access to all your funds, so it is\n" +
			"imperative that you keep it in a secure location.")

		for {
			fmt.Print(`Once you have stored the mnemonic in a safe ` +
				`and secure location, enter "OK" to continue: `)
			confirmSeed, err := reader.ReadString('\n')
			if err != nil {
				return nil, err
			}
			confirmSeed = strings.TrimSpace(confirmSeed)
			confirmSeed = strings.Trim(confirmSeed, `"`)
			if strings.EqualFold("OK", confirmSeed) {
				break
			}
		}

		return mnemonic, nil
	}

	for {
		fmt.Print("Enter existing wallet mnemonic: ")
		sentence, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		words := strings.Fields(strings.ToLower(sentence))

		// Creating a throwaway wallet validates the checksum.
		if _, err := wallet.NewFromMnemonic(words, ""); err != nil {
			fmt.Println("Invalid mnemonic specified.  Must be a " +
				"valid BIP-39 word sentence.")
			continue
		}

		return words, nil
	}
}
